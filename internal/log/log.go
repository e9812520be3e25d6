// Package log provides a minimal factory for structured slog loggers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a [slog.Logger] that writes to stdout at the given level
// (one of "debug", "info", "warn", "error"; defaults to info).
func New(level string) *slog.Logger {
	logger, _ := NewLeveled(os.Stdout, level)
	return logger
}

// NewLeveled creates a text logger writing to w whose level can be changed
// later through the returned [slog.LevelVar].
func NewLeveled(w io.Writer, level string) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(ParseLevel(level))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})), lvl
}

// ParseLevel maps a level name to a [slog.Level], defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
