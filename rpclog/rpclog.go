// Package rpclog provides the small structured logger used throughout the
// server. It is a thin wrapper over log/slog rather than a bespoke handler
// interface: the server's own logging needs (a handful of leveled calls with
// key-value attributes) don't justify more than that.
package rpclog

import (
	"context"
	"log/slog"
	"os"
)

// Logger is a leveled, structured logger. The zero value is not usable;
// construct one with New or Default.
type Logger struct {
	base *slog.Logger
}

// New wraps an existing *slog.Logger.
func New(base *slog.Logger) *Logger { return &Logger{base: base} }

var defaultLogger = New(slog.New(slog.NewTextHandler(os.Stderr, nil)))

// Default returns the package's fallback logger, used when a Config does not
// supply one of its own.
func Default() *Logger { return defaultLogger }

// With returns a Logger that annotates every entry with the given key-value
// pairs in addition to its own.
func (l *Logger) With(kvs ...any) *Logger { return &Logger{base: l.base.With(kvs...)} }

// Debug logs at debug level.
func (l *Logger) Debug(msg string, kvs ...any) { l.base.Debug(msg, kvs...) }

// Info logs at info level.
func (l *Logger) Info(msg string, kvs ...any) { l.base.Info(msg, kvs...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, kvs ...any) { l.base.Warn(msg, kvs...) }

// Error logs at error level.
func (l *Logger) Error(msg string, kvs ...any) { l.base.Error(msg, kvs...) }

// DebugContext logs at debug level with a context, allowing a handler to
// pull trace/span attributes out of ctx.
func (l *Logger) DebugContext(ctx context.Context, msg string, kvs ...any) {
	l.base.DebugContext(ctx, msg, kvs...)
}

// InfoContext logs at info level with a context.
func (l *Logger) InfoContext(ctx context.Context, msg string, kvs ...any) {
	l.base.InfoContext(ctx, msg, kvs...)
}

// WarnContext logs at warn level with a context.
func (l *Logger) WarnContext(ctx context.Context, msg string, kvs ...any) {
	l.base.WarnContext(ctx, msg, kvs...)
}

// ErrorContext logs at error level with a context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, kvs ...any) {
	l.base.ErrorContext(ctx, msg, kvs...)
}
