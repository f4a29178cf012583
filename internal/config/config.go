// Package config holds skillmeat's process configuration: collection and
// snapshot paths, database location, job-queue limits, logging toggles, and
// the drift-classifier conflict-attribution policy. Configuration is passed
// explicitly into the components that need it at construction time; there
// is no process-wide singleton (spec.md §9, "Global state").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConflictAttribution selects who gets credited with a version record when
// a three-way diff finds both sides changed (spec.md §9 Open Question).
type ConflictAttribution string

const (
	// AttributeLocal credits the user's edits even when both sides moved.
	// This is the spec's documented default behavior.
	AttributeLocal  ConflictAttribution = "local-modification"
	AttributeManual ConflictAttribution = "manual-review"
)

// Config holds all of skillmeat's process configuration.
type Config struct {
	CollectionPath  string `yaml:"collection_path"`
	SnapshotsDir    string `yaml:"snapshots_dir"`
	DatabasePath    string `yaml:"database_path"`

	JobQueue JobQueueConfig `yaml:"job_queue"`
	Logging  LoggingConfig  `yaml:"logging"`
	Drift    DriftConfig    `yaml:"drift"`
}

// JobQueueConfig bounds the background job queue (spec.md §5).
type JobQueueConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	MaxBacklog     int `yaml:"max_backlog"`
}

// LoggingConfig holds the logging toggles loaded from the YAML config and
// SKILLMEAT_DEBUG. The logging package does not read this struct: it reads
// its own toggles from <collection>/.skillmeat/config.json.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DriftConfig exposes the Open Question policy choice from spec.md §9 as a
// configurable default.
type DriftConfig struct {
	ConflictAttribution ConflictAttribution `yaml:"conflict_attribution"`
}

// DefaultConfig returns skillmeat's default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	collection := filepath.Join(home, ".skillmeat", "collection")
	return &Config{
		CollectionPath: collection,
		SnapshotsDir:   filepath.Join(collection, ".skillmeat", "snapshots"),
		DatabasePath:   filepath.Join(collection, ".skillmeat", "skillmeat.db"),
		JobQueue: JobQueueConfig{
			MaxConcurrency: 32,
			MaxBacklog:     256,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
		Drift: DriftConfig{
			ConflictAttribution: AttributeLocal,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to path atomically (write-temp + rename).
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SKILLMEAT_COLLECTION"); v != "" {
		c.CollectionPath = v
	}
	if v := os.Getenv("SKILLMEAT_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("SKILLMEAT_SNAPSHOTS_DIR"); v != "" {
		c.SnapshotsDir = v
	}
	if v := os.Getenv("SKILLMEAT_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
}

// SyncTimeout is the default per-operation timeout callers should apply to
// any suspension point (hashing, disk I/O, the fetch collaborator) per
// spec.md §5.
const SyncTimeout = 2 * time.Minute
