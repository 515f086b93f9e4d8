// Package slogctxd adapts log/slog to ctxd.Logger.
package slogctxd

import (
	"context"
	"log/slog"

	"github.com/bool64/ctxd"
)

// LevelImportant is a level of messages that are more important than info.
const LevelImportant = slog.LevelInfo + 2

var _ ctxd.Logger = Logger{}

// Logger is a ctxd.Logger backed by slog.Logger.
type Logger struct {
	L *slog.Logger
}

// New creates a logger.
func New(l *slog.Logger) Logger {
	return Logger{L: l}
}

// Debug logs a message.
func (l Logger) Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, slog.LevelDebug, msg, keysAndValues)
}

// Info logs a message.
func (l Logger) Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, slog.LevelInfo, msg, keysAndValues)
}

// Important logs a message.
func (l Logger) Important(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, LevelImportant, msg, keysAndValues)
}

// Warn logs a message.
func (l Logger) Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, slog.LevelWarn, msg, keysAndValues)
}

// Error logs a message.
func (l Logger) Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.log(ctx, slog.LevelError, msg, keysAndValues)
}

func (l Logger) log(ctx context.Context, level slog.Level, msg string, keysAndValues []interface{}) {
	if !l.L.Enabled(ctx, level) {
		return
	}

	args := append(ctxd.Fields(ctx), keysAndValues...)

	l.L.Log(ctx, level, msg, args...)
}

// ParseLevel converts level name to slog.Level, info is used for unknown names.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
