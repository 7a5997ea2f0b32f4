// Package snapshot dumps every collection of a document database into one
// JSON file per collection, and loads those files back.
//
// Files hold a pretty-printed array of documents in relaxed MongoDB
// Extended JSON, so ObjectIDs and dates survive as {"$oid": ...} and
// {"$date": ...}. Field order is kept as retrieved.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Lu1s-png/fleetbackup/internal/logger"
)

// DirName is the staging subdirectory holding collection files.
const DirName = "db"

// ErrTimeout is the cancellation cause when a database stage overruns.
var ErrTimeout = errors.New("database operation timed out")

// Result describes what a database stage did. Err is never returned as a Go
// error by the snapshotter; callers decide whether it is fatal.
type Result struct {
	Skipped     bool
	Collections []string
	Err         error
}

// MarshalJSON renders Err as its message.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Skipped     bool     `json:"skipped"`
		Collections []string `json:"collections,omitempty"`
		Error       string   `json:"error,omitempty"`
	}{
		Skipped:     r.Skipped,
		Collections: r.Collections,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a Result written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in struct {
		Skipped     bool     `json:"skipped"`
		Collections []string `json:"collections"`
		Error       string   `json:"error"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Skipped = in.Skipped
	r.Collections = in.Collections
	r.Err = nil
	if in.Error != "" {
		r.Err = errors.New(in.Error)
	}
	return nil
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// Snapshotter dumps and reloads collections through a Store.
type Snapshotter struct {
	dial     Dialer
	database string
	conflict ConflictPolicy
	timeout  time.Duration
	log      logger.Logger
}

// WithDatabase overrides the database name taken from the URI.
func WithDatabase(name string) Option {
	return func(s *Snapshotter) {
		if name != "" {
			s.database = name
		}
	}
}

// WithConflictPolicy sets how restore handles existing _id values.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(s *Snapshotter) {
		if p != "" {
			s.conflict = p
		}
	}
}

// WithTimeout bounds each snapshot or restore. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Snapshotter) {
		s.timeout = d
	}
}

// New returns a Snapshotter. A nil dialer means MongoDialer.
func New(dial Dialer, log logger.Logger, opts ...Option) *Snapshotter {
	if dial == nil {
		dial = MongoDialer
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Snapshotter{
		dial:     dial,
		conflict: ConflictAbort,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Snapshotter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, s.timeout, ErrTimeout)
}

func (s *Snapshotter) open(ctx context.Context, uri string) (Store, func(), error) {
	store, err := s.dial(ctx, uri, s.database)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			s.log.Warn("closing database connection failed", "error", err.Error())
		}
	}
	return store, release, nil
}

// Snapshot writes destDir/db/<collection>.json for every collection. An empty
// uri skips the stage.
func (s *Snapshotter) Snapshot(ctx context.Context, uri, destDir string) Result {
	if uri == "" {
		s.log.Warn("mongo uri not provided, skipping database backup")
		return Result{Skipped: true}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	store, release, err := s.open(ctx, uri)
	if err != nil {
		return s.failed("database backup failed", err, nil)
	}
	defer release()

	names, err := store.ListCollectionNames(ctx)
	if err != nil {
		return s.failed("database backup failed", err, nil)
	}
	sort.Strings(names)

	dir := filepath.Join(destDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.failed("database backup failed", fmt.Errorf("mkdir %q: %w", dir, err), nil)
	}

	done := make([]string, 0, len(names))
	for _, name := range names {
		if !safeCollectionName(name) {
			s.log.Warn("collection name is not a safe file name, skipping", "collection", name)
			continue
		}
		docs, err := store.FindAll(ctx, name)
		if err != nil {
			return s.failed("database backup failed", err, done)
		}
		path := filepath.Join(dir, name+".json")
		if err := writeCollection(path, docs); err != nil {
			return s.failed("database backup failed", err, done)
		}
		s.log.Debug("collection saved", "collection", name, "documents", len(docs), "path", path)
		done = append(done, name)
	}

	s.log.Info("database backup completed",
		"collections", len(done),
		"duration", time.Since(start).String(),
	)
	return Result{Collections: done}
}

// Restore inserts every sourceDir/db/*.json file into the collection of the
// same name. A missing db directory means there is nothing to restore.
func (s *Snapshotter) Restore(ctx context.Context, uri, sourceDir string) Result {
	if uri == "" {
		s.log.Warn("mongo uri not provided, skipping database restore")
		return Result{Skipped: true}
	}
	dir := filepath.Join(sourceDir, DirName)
	files, err := collectionFiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Warn("no database directory in backup, skipping database restore", "path", dir)
			return Result{Skipped: true}
		}
		return s.failed("database restore failed", err, nil)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	store, release, err := s.open(ctx, uri)
	if err != nil {
		return s.failed("database restore failed", err, nil)
	}
	defer release()

	done := make([]string, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".json")
		docs, err := readCollection(file)
		if err != nil {
			return s.failed("database restore failed", err, done)
		}
		if len(docs) > 0 {
			if err := store.Insert(ctx, name, docs, s.conflict); err != nil {
				return s.failed("database restore failed", err, done)
			}
		}
		s.log.Debug("collection restored", "collection", name, "documents", len(docs))
		done = append(done, name)
	}

	s.log.Info("database restore completed",
		"collections", len(done),
		"conflict_policy", string(s.conflict),
		"duration", time.Since(start).String(),
	)
	return Result{Collections: done}
}

func (s *Snapshotter) failed(msg string, err error, done []string) Result {
	s.log.Error(msg, "error", err.Error())
	return Result{Collections: done, Err: err}
}

// safeCollectionName reports whether name can be stored as <name>.json
// directly inside the db directory.
func safeCollectionName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`+"\x00")
}

func collectionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func writeCollection(path string, docs []bson.Raw) error {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, doc := range docs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		data, err := bson.MarshalExtJSONIndent(doc, false, false, "  ", "  ")
		if err != nil {
			return fmt.Errorf("encode document %d of %s: %w", i, filepath.Base(path), err)
		}
		buf.Write(data)
	}
	if len(docs) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}

func readCollection(path string) ([]bson.D, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %q: expected a JSON array: %w", path, err)
	}
	docs := make([]bson.D, 0, len(raw))
	for i, r := range raw {
		var doc bson.D
		if err := bson.UnmarshalExtJSON(r, false, &doc); err != nil {
			return nil, fmt.Errorf("decode document %d of %q: %w", i, path, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
