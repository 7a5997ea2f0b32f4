package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sink every backup and restore step writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Sync() error
	Close() error
}

// zapLogger wraps a *zap.SugaredLogger and implements Logger.
type zapLogger struct {
	sugar  *zap.SugaredLogger
	closer io.Closer
}

// Ensure zapLogger satisfies Logger.
var _ Logger = (*zapLogger)(nil)

// Debug logs at DebugLevel. keysAndValues are alternating key/value pairs.
func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs at InfoLevel.
func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs at WarnLevel.
func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs at ErrorLevel.
func (l *zapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries.
func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes the logger and releases the log file, if any.
func (l *zapLogger) Close() error {
	// stdout cannot always be synced (pipes, terminals); the file can.
	_ = l.sugar.Sync()
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Option configures a Logger built by New.
type Option func(*options)

type options struct {
	level   zapcore.Level
	console io.Writer
}

// WithLevel sets the minimum level written to both sinks.
func WithLevel(level zapcore.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithConsole replaces the console sink. A nil writer disables it.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

// New opens (or creates) the log file at path and returns a Logger that
// writes every record to it and to the console. Records look like:
//
//	[2025-04-24T21:00:00.000Z] [INFO] backup started {"path": "..."}
func New(path string, opts ...Option) (Logger, error) {
	o := &options{
		level:   zapcore.InfoLevel,
		console: os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %q: %w", filepath.Dir(path), err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}

	encoder := zapcore.NewConsoleEncoder(EncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(file), o.level),
	}
	if o.console != nil {
		cores = append(cores,
			zapcore.NewCore(encoder.Clone(), zapcore.Lock(zapcore.AddSync(o.console)), o.level),
		)
	}

	return &zapLogger{
		sugar:  zap.New(zapcore.NewTee(cores...)).Sugar(),
		closer: file,
	}, nil
}

// NewConsole returns a Logger that writes only to w, in the same format as
// New. It is used before a run's log file exists.
func NewConsole(w io.Writer, level zapcore.Level) Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(EncoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
	return FromZap(zap.New(core))
}

// FromZap adapts an existing zap logger, e.g. one built by zaptest/observer.
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return FromZap(zap.NewNop())
}

// EncoderConfig is the line layout shared by the console and the log file.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       bracketedTime,
		EncodeLevel:      bracketedLevel,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

func bracketedTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + t.UTC().Format("2006-01-02T15:04:05.000Z07:00") + "]")
}

func bracketedLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// ParseLevel maps "debug", "info", "warn" and "error" to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}
