package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestNewLeveledChangesAtRuntime(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, lvl := NewLeveled(&buf, "warn")

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}

	lvl.Set(slog.LevelDebug)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug line after level change, got %q", buf.String())
	}
}
