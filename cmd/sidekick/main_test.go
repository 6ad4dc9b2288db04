package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/memory"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyConfigRetunesLogLevel(t *testing.T) {
	logger, level := newLogger(config.LoggingConfig{Level: "info"})
	rt := &runtime{logger: logger, logLevel: level}

	rt.applyConfig(&config.Config{Logging: config.LoggingConfig{Level: "debug"}})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug after reload", level.Level())
	}

	// An unparsable level falls back to info instead of sticking.
	rt.applyConfig(&config.Config{Logging: config.LoggingConfig{Level: "nonsense"}})
	if level.Level() != slog.LevelInfo {
		t.Errorf("level = %v, want info fallback", level.Level())
	}
}

func TestUpdateContextSlotKeepsRecentTurns(t *testing.T) {
	logger, _ := newLogger(config.LoggingConfig{Level: "error"})
	working := memory.NewWorkingMemory(memory.WorkingConfig{}, nil, nil, logger)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		working.AddMessage(ctx, "user", "帮我看看今天的任务安排")
		working.AddMessage(ctx, "assistant", "好的，这是你今天的任务列表")
	}

	updateContextSlot(working, logger)
	got := working.ReadSlot("context")
	if got == "" {
		t.Fatal("context slot empty after update")
	}
	if lines := strings.Count(got, "\n") + 1; lines > 6 {
		t.Errorf("context slot holds %d lines, want at most 6", lines)
	}
}
