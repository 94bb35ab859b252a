// Package config loads Config: a YAML file overlaid with .env and process
// environment variables, the ambient-stack pattern named in SPEC_FULL §2
// and grounded on the teacher's copilot.LoadConfigFromFile/ParseConfig.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig configures the embedded database.
type StoreConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMs int64  `yaml:"busy_timeout_ms"`
}

// AgentConfig configures the external agent CLI invocation.
type AgentConfig struct {
	Path       string `yaml:"path"`
	Model      string `yaml:"model"`
	DangerMode bool   `yaml:"danger_mode"`
}

// SchedulerConfig configures SchedulerCore's runtime bounds.
type SchedulerConfig struct {
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions"`
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout"`
}

// ExecutionDefaultsConfig holds the `execution` YAML block. The CLI
// commands build job options from model.DefaultExecutionOptions and do not
// read these values.
type ExecutionDefaultsConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	OutputFormat string        `yaml:"output_format"`
}

// LogConfig configures the log/slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds all nightpilot configuration.
type Config struct {
	Store     StoreConfig             `yaml:"store"`
	Agent     AgentConfig             `yaml:"agent"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
	Execution ExecutionDefaultsConfig `yaml:"execution"`
	Log       LogConfig               `yaml:"log"`
}

// Default returns the built-in defaults, applied before any file or
// environment overlay.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{Path: "claude"},
		Scheduler: SchedulerConfig{
			MaxConcurrentExecutions: 3,
			ShutdownTimeout:         30 * time.Second,
		},
		Execution: ExecutionDefaultsConfig{
			Timeout:      5 * time.Minute,
			OutputFormat: "json",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// envVarPattern expands ${VAR} and ${VAR:-default} references in config
// values, mirroring shell parameter expansion.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, def := m[1], m[2]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}

// Load reads path (a YAML file), overlays any `.env`/`.env.local` in the
// current directory, expands ${VAR} references, and returns the merged
// Config. A missing path is not an error: defaults are returned as-is so
// every CLI command works with zero configuration.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	resolveRelativePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// resolveRelativePaths anchors the store path to the config file's
// directory, so nightpilotd behaves the same regardless of cwd.
func resolveRelativePaths(cfg *Config, configDir string) {
	if cfg.Store.Path == "" || filepath.IsAbs(cfg.Store.Path) {
		return
	}
	if strings.HasPrefix(cfg.Store.Path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Store.Path = filepath.Join(home, cfg.Store.Path[2:])
		}
		return
	}
	cfg.Store.Path = filepath.Join(configDir, cfg.Store.Path)
}

// FindConfigFile searches standard locations for a config file, mirroring
// the teacher's FindConfigFile.
func FindConfigFile() string {
	candidates := []string{
		"nightpilot.yaml",
		"nightpilot.yml",
		"config/nightpilot.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
