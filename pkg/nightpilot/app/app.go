// Package app wires Config, Store, Executor, Scheduler, and Facade into a
// single bootstrap, the same "one constructor, many thin commands" shape
// the teacher's copilot.New(cfg, logger) gives its Assistant.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/config"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/executor"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/facade"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/scheduler"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

// App holds every long-lived collaborator a CLI command needs. Close it
// when done to release the database handle.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *store.SQLiteStore
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler
	Facade    *facade.Facade
}

// Bootstrap loads configuration (configPath, falling back to discovery
// and then defaults), builds a logger at the configured level, opens the
// database, and assembles the executor/scheduler/facade trio every
// command runs against.
func Bootstrap(configPath string, verbose bool) (*App, error) {
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logLevel := resolveLogLevel(verbose, os.Getenv("CNP_LOG_LEVEL"), cfg.Log.Level)
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = store.DefaultPath()
	}
	st, err := store.OpenSQLite(store.SQLiteConfig{
		Path:          dbPath,
		BusyTimeoutMs: int(cfg.Store.BusyTimeoutMs),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store at %q: %w", dbPath, err)
	}

	exec := executor.New(cfg.Agent.Path, logger)
	sched := scheduler.New(st, exec, nil, logger, cfg.Scheduler.MaxConcurrentExecutions)
	fc := facade.New(st, sched, cfg.Agent.Path)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Executor:  exec,
		Scheduler: sched,
		Facade:    fc,
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.Store.Close()
}

// resolveLogLevel picks the effective log level. --verbose always wins
// (it's an explicit ask from this invocation); otherwise CNP_LOG_LEVEL
// overrides the YAML log.level, per spec §6/§2; info is the default.
func resolveLogLevel(verbose bool, envLevel, cfgLevel string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	if lvl, ok := parseLogLevel(envLevel); ok {
		return lvl
	}
	if lvl, ok := parseLogLevel(cfgLevel); ok {
		return lvl
	}
	return slog.LevelInfo
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}
