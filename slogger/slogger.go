// Package slogger provides the structured logging interface used across the
// module, with a slog/tint implementation for terminals and a devnull
// default for library embedding.
package slogger

import (
	"context"
	"strings"
)

// DefaultLogger is used by components whose options carry no logger.
var DefaultLogger Logger = NewDevNullLogger()

// Logger is the logging interface accepted by all components. Key-value
// pairs follow slog conventions.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// With returns a Logger carrying the given key-value pairs.
	With(keysAndValues ...any) Logger
}

type contextKey string

const loggerKey contextKey = "loom.logger"

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger stored in ctx, or DefaultLogger.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return DefaultLogger
	}
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger
}

// LevelFromString converts a level name to a LogLevel, defaulting to info.
func LevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
