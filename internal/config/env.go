package config

import (
	"os"
	"strconv"
	"strings"
)

// GetEnvironment returns the current environment from SC_ENV or
// ENVIRONMENT, defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("SC_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// applyEnvironmentOverrides overrides cfg with SC_* environment
// variables, the second-highest precedence tier after CLI flags.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("SC_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("SC_LISTEN_MULTIADDR"); v != "" {
		cfg.Mesh.ListenMultiaddr = v
	}
	if v := os.Getenv("SC_BOOTSTRAP_NODES"); v != "" {
		cfg.Mesh.BootstrapNodes = splitCSV(v)
	}

	if v := os.Getenv("SC_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("SC_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}

	if v := os.Getenv("SC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SC_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	if v := os.Getenv("SC_RELAY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Settings.RelayEnabled = b
		}
	}
}

// splitCSV trims whitespace around each comma-separated entry and
// drops empty ones.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
