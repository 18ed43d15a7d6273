package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "logger"

// ToContext stores a logger in the context.
func ToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, falling back to the
// default logger so callers never get nil.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With adds attributes to the context logger and returns both the new
// logger and the updated context:
//
//	log, ctx := logger.With(ctx, "queue_item_id", id)
func With(ctx context.Context, args ...any) (*slog.Logger, context.Context) {
	logger := FromContext(ctx).With(args...)
	return logger, ToContext(ctx, logger)
}

// IsDebugEnabled reports whether the context logger emits debug
// records, so expensive debug payloads can be skipped entirely.
func IsDebugEnabled(ctx context.Context) bool {
	return FromContext(ctx).Enabled(ctx, slog.LevelDebug)
}
