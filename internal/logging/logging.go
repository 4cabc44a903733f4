// Package logging wraps zap the way the rest of the node does: a small
// interface so callers don't depend on zap directly, plus a no-op
// implementation for tests.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the subset of structured-logging operations the compaction
// engine needs.
type Logger interface {
	Fatal(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)

	// With returns a Logger that always includes the given fields.
	With(fields ...zap.Field) Logger
}

type log struct {
	inner *zap.Logger
}

// New returns a Logger writing JSON lines to stderr at the given level.
func New(level zapcore.Level) Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Misconfigured encoder/level is a programmer error, not a
		// runtime condition callers can recover from.
		panic(err)
	}
	return &log{inner: l}
}

// NewNoOp returns a Logger that discards everything. Used by tests and by
// callers that haven't wired a real sink yet.
func NewNoOp() Logger {
	return &log{inner: zap.NewNop()}
}

func (l *log) Fatal(msg string, fields ...zap.Field) { l.inner.Fatal(msg, fields...) }
func (l *log) Error(msg string, fields ...zap.Field) { l.inner.Error(msg, fields...) }
func (l *log) Warn(msg string, fields ...zap.Field)  { l.inner.Warn(msg, fields...) }
func (l *log) Info(msg string, fields ...zap.Field)  { l.inner.Info(msg, fields...) }
func (l *log) Debug(msg string, fields ...zap.Field) { l.inner.Debug(msg, fields...) }

func (l *log) With(fields ...zap.Field) Logger {
	return &log{inner: l.inner.With(fields...)}
}
