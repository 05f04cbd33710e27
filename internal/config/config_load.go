package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18990,
		},
		CLI: CLIConfig{
			Command:     "claude",
			IdleTimeout: "120s",
			HardTimeout: "30m",
		},
		Tasks: TasksConfig{
			MaxConcurrent: 4,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "clade",
		},
	}
}

// Load reads config.json from path, overlaying env vars. A missing file
// yields defaults; a file with the wrong schema version is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("config schema version %d not supported (want %d)", cfg.SchemaVersion, SchemaVersion)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLADE_CLI_COMMAND", &c.CLI.Command)
	envStr("CLADE_DEFAULT_AGENT", &c.Routing.DefaultAgent)
	envStr("CLADE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("CLADE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Save writes the config to path atomically.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
