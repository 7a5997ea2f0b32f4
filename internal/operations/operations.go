package operations

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/Lu1s-png/fleetbackup/internal/archive"
	"github.com/Lu1s-png/fleetbackup/internal/diskspace"
	"github.com/Lu1s-png/fleetbackup/internal/logger"
	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

// ErrArchiveRequired is returned by Restore when no archive path is given.
var ErrArchiveRequired = errors.New("archive path is required")

// ErrRunExists is returned when the output directory of a new run is already
// present, i.e. two runs produced the same timestamp token.
var ErrRunExists = errors.New("backup run directory already exists")

// ErrChecksumMismatch is returned when an archive no longer matches the
// checksum recorded in its metadata.
var ErrChecksumMismatch = errors.New("archive checksum mismatch")

// InsufficientSpaceError reports a failed preflight space check.
type InsufficientSpaceError struct {
	Free     int64
	Required int64
	Reason   string
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space: free=%d bytes, required=%d bytes (%s)",
		e.Free, e.Required, e.Reason)
}

// State names a step of a backup or restore run.
type State string

const (
	StateInit        State = "INIT"
	StatePreflight   State = "PREFLIGHT"
	StateStagingCopy State = "STAGING_COPY"
	StateDBSnapshot  State = "DB_SNAPSHOT"
	StateCompress    State = "COMPRESS"
	StateExpand      State = "EXPAND"
	StateDBRestore   State = "DB_RESTORE"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Operator runs backups and restores. The zero value is not usable; build
// one with NewOperator.
type Operator struct {
	probe    diskspace.Probe
	codec    archive.Codec
	dial     snapshot.Dialer
	now      func() time.Time
	console  io.Writer
	level    zapcore.Level
	progress io.Writer
	database string
	conflict snapshot.ConflictPolicy
	timeout  time.Duration
}

type Option func(*Operator)

func WithProbe(p diskspace.Probe) Option {
	return func(o *Operator) {
		if p != nil {
			o.probe = p
		}
	}
}

func WithCodec(c archive.Codec) Option {
	return func(o *Operator) {
		if c != nil {
			o.codec = c
		}
	}
}

func WithDialer(d snapshot.Dialer) Option {
	return func(o *Operator) {
		if d != nil {
			o.dial = d
		}
	}
}

// WithClock replaces time.Now, which decides the run's timestamp token.
func WithClock(now func() time.Time) Option {
	return func(o *Operator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithConsole sets where log lines are echoed besides the log file.
// A nil writer keeps them in the file only.
func WithConsole(w io.Writer) Option {
	return func(o *Operator) {
		o.console = w
	}
}

func WithLogLevel(level zapcore.Level) Option {
	return func(o *Operator) {
		o.level = level
	}
}

// WithProgress draws a copy progress bar on w.
func WithProgress(w io.Writer) Option {
	return func(o *Operator) {
		o.progress = w
	}
}

func WithDatabase(name string) Option {
	return func(o *Operator) {
		o.database = name
	}
}

func WithConflictPolicy(p snapshot.ConflictPolicy) Option {
	return func(o *Operator) {
		o.conflict = p
	}
}

// WithTimeout bounds each database stage. Zero leaves them unbounded.
func WithTimeout(d time.Duration) Option {
	return func(o *Operator) {
		o.timeout = d
	}
}

func NewOperator(opts ...Option) *Operator {
	o := &Operator{
		probe:    diskspace.New(),
		codec:    archive.NewZip(),
		dial:     snapshot.MongoDialer,
		now:      time.Now,
		console:  os.Stdout,
		level:    zapcore.InfoLevel,
		conflict: snapshot.ConflictAbort,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operator) newLogger(path string) (logger.Logger, error) {
	return logger.New(path, logger.WithLevel(o.level), logger.WithConsole(o.console))
}

func (o *Operator) snapshotter(log logger.Logger) *snapshot.Snapshotter {
	return snapshot.New(o.dial, log,
		snapshot.WithDatabase(o.database),
		snapshot.WithConflictPolicy(o.conflict),
		snapshot.WithTimeout(o.timeout),
	)
}

// Timestamp formats t as the token naming a backup run, e.g.
// 2025-04-24T21-00-00-123Z. Every character that is unsafe in file names on
// some platform is replaced by '-'.
func Timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// run tracks the state of one backup or restore for logging.
type run struct {
	log   logger.Logger
	state State
}

func (r *run) enter(next State) {
	r.log.Debug("state transition", "from", string(r.state), "to", string(next))
	r.state = next
}

// fail logs err against the current state and moves the run to FAILED.
func (r *run) fail(err error) error {
	r.log.Error("run failed", "state", string(r.state), "error", err.Error())
	r.state = StateFailed
	return err
}

// resolveWorkDir returns dir as an absolute path, defaulting to the process
// working directory when empty.
func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		return wd, nil
	}
	return filepath.Abs(dir)
}

// resolvePath interprets p relative to workDir unless it is absolute.
func resolvePath(workDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(workDir, p)
}

// EnsureDirectoryExist creates dirPath and its parents if needed.
func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dirPath, err)
	}
	return nil
}
