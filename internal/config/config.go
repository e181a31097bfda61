// Package config loads process configuration for a scmessenger node:
// an optional YAML file, overridden by environment variables (an
// optional .env file is loaded into the environment first), overridden
// in turn by whatever a CLI front end applies last. It backs the
// storage root, mesh listen/bootstrap settings, metrics bind address,
// logging, and the initial Settings record a fresh node seeds its
// SettingsStore with.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scmessenger/core/internal/model"
)

// Config is the fully resolved process configuration.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	StorageRoot string          `yaml:"storage_root" json:"storage_root"`
	Mesh        MeshConfig      `yaml:"mesh" json:"mesh"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Settings    model.Settings  `yaml:"settings" json:"settings"`
}

// MeshConfig backs MeshService's listen address and bootstrap list.
type MeshConfig struct {
	ListenMultiaddr string   `yaml:"listen_multiaddr" json:"listen_multiaddr"`
	BootstrapNodes  []string `yaml:"bootstrap_nodes" json:"bootstrap_nodes"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, pretty
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// defaultStorageRootName is relative to the user's home directory; it is
// expanded by setDefaults, not stored literally.
const defaultStorageRootName = ".scmessenger"

// setDefaults fills every still-zero field with a compiled-in default.
// It runs after YAML parsing (so it fills only what the file left zero)
// and before environment overrides, so a partially specified file or
// environment only needs to mention the fields it wants to change.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.StorageRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.StorageRoot = home + string(os.PathSeparator) + defaultStorageRootName
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Settings == (model.Settings{}) {
		cfg.Settings = model.DefaultSettings()
	}
}

// LoadFromFile parses a YAML config file and applies defaults to any
// field it leaves zero.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes cfg as YAML, for `scmessenger config init`-style
// scaffolding.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
