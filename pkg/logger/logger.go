package logger

import (
	"log/slog"
	"strings"
)

// New builds a logger at the named level using the given handler
// constructor. Unknown level names fall back to info.
func New(level string, handler func(level slog.Level) slog.Handler) *slog.Logger {
	return slog.New(handler(parseLevel(level)))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
