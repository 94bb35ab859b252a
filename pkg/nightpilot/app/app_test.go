package app

import (
	"log/slog"
	"testing"
)

func TestResolveLogLevelVerboseWins(t *testing.T) {
	if got := resolveLogLevel(true, "error", "error"); got != slog.LevelDebug {
		t.Fatalf("expected verbose to force debug, got %v", got)
	}
}

func TestResolveLogLevelEnvOverridesConfig(t *testing.T) {
	if got := resolveLogLevel(false, "warn", "debug"); got != slog.LevelWarn {
		t.Fatalf("expected CNP_LOG_LEVEL to override config, got %v", got)
	}
}

func TestResolveLogLevelFallsBackToConfigThenInfo(t *testing.T) {
	if got := resolveLogLevel(false, "", "error"); got != slog.LevelError {
		t.Fatalf("expected config level when env unset, got %v", got)
	}
	if got := resolveLogLevel(false, "", ""); got != slog.LevelInfo {
		t.Fatalf("expected info as the ultimate default, got %v", got)
	}
}

func TestResolveLogLevelIgnoresGarbage(t *testing.T) {
	if got := resolveLogLevel(false, "not-a-level", ""); got != slog.LevelInfo {
		t.Fatalf("expected an unrecognized CNP_LOG_LEVEL to fall through, got %v", got)
	}
}
