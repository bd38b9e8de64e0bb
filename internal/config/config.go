// Package config loads repoops pipeline configuration from .repoops/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all repoops configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Watch      WatchConfig      `yaml:"watch"`
	Queue      QueueConfig      `yaml:"queue"`
	Policy     PolicyConfig     `yaml:"policy"`
	Validation ValidationConfig `yaml:"validation"`
	Git        GitConfig        `yaml:"git"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	// Roots are the directories to watch, relative to the workspace.
	Roots []string `yaml:"roots"`

	// IncludePatterns limit which changed paths are considered at all.
	// Empty means everything passes the include check.
	IncludePatterns []string `yaml:"include_patterns"`

	// IgnorePatterns drop matching paths before the include check.
	IgnorePatterns []string `yaml:"ignore_patterns"`

	// StabilityDelay is how long a file's digest must stay unchanged
	// before an event is emitted.
	StabilityDelay string `yaml:"stability_delay"`

	// SuppressionWindow is how long after a self-induced mutation matching
	// events for that path are ignored.
	SuppressionWindow string `yaml:"suppression_window"`
}

// QueueConfig configures the durable work queue.
type QueueConfig struct {
	DatabasePath string `yaml:"database_path"`
	PollInterval string `yaml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size"`
	Workers      int    `yaml:"workers"`
	Retention    string `yaml:"retention"`
}

// PolicyConfig configures module contract loading.
type PolicyConfig struct {
	ContractsDir string `yaml:"contracts_dir"`
}

// ValidationConfig configures the validator set.
type ValidationConfig struct {
	RequireIdentity bool `yaml:"require_identity"`
}

// GitConfig configures the git adapter.
type GitConfig struct {
	// DryRun logs intended git commands without running them. On by default.
	DryRun      bool   `yaml:"dry_run"`
	RepoRoot    string `yaml:"repo_root"`
	Remote      string `yaml:"remote"`
	PushRetries int    `yaml:"push_retries"`
}

// AuditConfig configures the append-only audit sink.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "repoops",
		Version: "0.3.0",

		Watch: WatchConfig{
			Roots: []string{"."},
			IgnorePatterns: []string{
				".git",
				".repoops",
				"node_modules",
				"vendor",
				"dist",
				"build",
				"__pycache__",
				".venv",
				".cache",
			},
			StabilityDelay:    "2s",
			SuppressionWindow: "5s",
		},

		Queue: QueueConfig{
			DatabasePath: ".repoops/queue.db",
			PollInterval: "3s",
			BatchSize:    10,
			Workers:      4,
			Retention:    "168h",
		},

		Policy: PolicyConfig{
			ContractsDir: ".repoops/contracts",
		},

		Validation: ValidationConfig{
			RequireIdentity: false,
		},

		Git: GitConfig{
			DryRun:      true,
			RepoRoot:    ".",
			Remote:      "origin",
			PushRetries: 3,
		},

		Audit: AuditConfig{
			Dir: ".repoops/audit",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from the workspace, falling back to defaults for any
// missing fields. A missing config file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".repoops", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Env vars win over file values so operators can flip modes without edits.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REPOOPS_DRY_RUN"); v != "" {
		c.Git.DryRun = v != "0" && v != "false"
	}
	if v := os.Getenv("REPOOPS_DB_PATH"); v != "" {
		c.Queue.DatabasePath = v
	}
	if v := os.Getenv("REPOOPS_CONTRACTS_DIR"); v != "" {
		c.Policy.ContractsDir = v
	}
	if v := os.Getenv("REPOOPS_AUDIT_DIR"); v != "" {
		c.Audit.Dir = v
	}
}

// Save writes the config back to the workspace.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".repoops")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// parseDuration parses a duration string with a fallback.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// StabilityDelay returns the parsed watch stability delay.
func (w WatchConfig) StabilityDelayDuration() time.Duration {
	return parseDuration(w.StabilityDelay, 2*time.Second)
}

// SuppressionWindowDuration returns the parsed loop-prevention window.
func (w WatchConfig) SuppressionWindowDuration() time.Duration {
	return parseDuration(w.SuppressionWindow, 5*time.Second)
}

// PollIntervalDuration returns the parsed orchestrator poll interval.
func (q QueueConfig) PollIntervalDuration() time.Duration {
	return parseDuration(q.PollInterval, 3*time.Second)
}

// RetentionDuration returns the parsed terminal-item retention window.
func (q QueueConfig) RetentionDuration() time.Duration {
	return parseDuration(q.Retention, 7*24*time.Hour)
}
