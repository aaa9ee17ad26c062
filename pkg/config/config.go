// Package config holds the engine's JSON-tagged, nested-struct
// configuration: sensible defaults, an optional config file, and an
// environment variable override for its path.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration for one rezync Store.
type Config struct {
	Store Store `json:"store"`
	Sync  Sync  `json:"sync"`
	Log   Log   `json:"log"`
}

// Store configures the DAG/perdag layer.
type Store struct {
	DataDir              string  `json:"data_dir"`
	InMemory             bool    `json:"in_memory"`
	MemdagCapacity       int     `json:"memdag_capacity"`
	CompressionThreshold int     `json:"compression_threshold"`
	GCInterval           int     `json:"gc_interval"` // seconds
	GCDiscardRatio       float64 `json:"gc_discard_ratio"`
}

// Sync configures the mutation & sync coordinator.
type Sync struct {
	ClientID      string        `json:"client_id"`
	ProfileID     string        `json:"profile_id"`
	ClientGroupID string        `json:"client_group_id"`
	PushVersion   int           `json:"push_version"`
	SchemaVersion string        `json:"schema_version"`
	PushDelay     time.Duration `json:"push_delay"`
	PullInterval  time.Duration `json:"pull_interval"`
}

// Log configures ambient logging.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

// DefaultConfig returns the engine's default configuration: an in-memory
// store and a push delay tuned for interactive use.
func DefaultConfig() *Config {
	return &Config{
		Store: Store{
			InMemory:             true,
			MemdagCapacity:       10000,
			CompressionThreshold: 4096,
			GCInterval:           300,
			GCDiscardRatio:       0.5,
		},
		Sync: Sync{
			PushVersion:   1,
			SchemaVersion: "1",
			PushDelay:     10 * time.Millisecond,
			PullInterval:  60 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads and parses a JSON configuration file at configPath,
// layering it over DefaultConfig. An empty configPath returns the default
// configuration unchanged.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config: file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOrDefault tries the REZYNC_CONFIG environment variable, then a
// handful of common paths, falling back to DefaultConfig if none load.
func LoadConfigOrDefault() *Config {
	if envPath := os.Getenv("REZYNC_CONFIG"); envPath != "" {
		if cfg, err := LoadConfig(envPath); err == nil {
			return cfg
		}
	}

	possiblePaths := []string{
		"config.json",
		"./config/config.json",
		"/etc/rezync/config.json",
	}
	for _, path := range possiblePaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if cfg, err := LoadConfig(absPath); err == nil {
			return cfg
		}
	}

	return DefaultConfig()
}

func validateConfig(cfg *Config) error {
	if cfg.Sync.ClientID == "" {
		return fmt.Errorf("config: sync.client_id must be set")
	}
	if cfg.Store.MemdagCapacity < 1 {
		return fmt.Errorf("config: store.memdag_capacity must be positive")
	}
	if cfg.Store.GCDiscardRatio <= 0 || cfg.Store.GCDiscardRatio >= 1 {
		return fmt.Errorf("config: store.gc_discard_ratio must be in (0, 1)")
	}
	if cfg.Sync.PushDelay < 0 {
		return fmt.Errorf("config: sync.push_delay must not be negative")
	}
	return nil
}
