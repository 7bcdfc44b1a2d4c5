package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewLoggerReturnsUsableLogger(t *testing.T) {
	logger := NewLogger("debug")
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}

func TestWithContextAndFromContext(t *testing.T) {
	logger := NewLogger("warn")
	ctx := WithContext(context.Background(), logger)

	got := FromContext(ctx)
	if got != logger {
		t.Error("FromContext did not return the attached logger")
	}
}

func TestFromContextWithoutAttachedLoggerReturnsDefault(t *testing.T) {
	got := FromContext(context.Background())
	if got == nil {
		t.Fatal("FromContext returned nil")
	}
	if got != slog.Default() {
		t.Error("expected slog.Default() when no logger was attached")
	}
}
