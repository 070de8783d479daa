package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"error":   slog.LevelError,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"info":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"":        slog.LevelDebug,
		"verbose": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "component=test") {
		t.Fatalf("warn record missing: %s", out)
	}
}
