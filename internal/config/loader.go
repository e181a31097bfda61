package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoaderOptions configures Load.
type LoaderOptions struct {
	// ConfigFile is an explicit YAML file path. If empty, Load looks
	// for config.yaml under ConfigDir and proceeds without one if
	// that's also absent — env vars and defaults are enough to run.
	ConfigFile string
	// ConfigDir is searched for config.yaml when ConfigFile is empty.
	ConfigDir string
	// EnvFile is a .env path loaded into the process environment
	// before SC_* variables are read. Missing is not an error.
	EnvFile string
	// SkipValidation disables Validate.
	SkipValidation bool
}

// DefaultLoaderOptions returns the options Load uses when called with none.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: ".",
		EnvFile:   ".env",
	}
}

// Load resolves a Config from, in increasing precedence: compiled-in
// defaults, an optional YAML file, and SC_* environment variables. A
// CLI front end applies its own flag overrides on the returned Config
// afterward, the highest precedence tier, mirroring BootstrapResolver's
// own env-then-remote-then-static order.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.EnvFile != "" {
		_ = godotenv.Load(options.EnvFile)
	}

	cfg, err := loadFileOrDefault(options)
	if err != nil {
		return nil, err
	}

	if cfg.Environment == "" {
		cfg.Environment = GetEnvironment()
	}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	return cfg, nil
}

func loadFileOrDefault(options LoaderOptions) (*Config, error) {
	path := options.ConfigFile
	if path == "" {
		candidate := options.ConfigDir + string(os.PathSeparator) + "config.yaml"
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path == "" {
		return &Config{}, nil
	}
	return LoadFromFile(path)
}

// MustLoad loads configuration or panics, for main()'s startup path.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

// Validate rejects a Config that cannot run: an empty storage root, a
// metrics port out of the valid TCP range when metrics are enabled,
// and a logging level other than debug/info/warn/error. The listen
// multiaddr is not checked here.
func Validate(cfg *Config) error {
	if cfg.StorageRoot == "" {
		return fmt.Errorf("storage_root must not be empty")
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d is out of range", cfg.Metrics.Port)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug/info/warn/error", cfg.Logging.Level)
	}
	return nil
}
