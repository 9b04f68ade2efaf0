// Package config provides daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileNames are the supported configuration file names, in order of
// precedence, looked up in the config directory.
var ConfigFileNames = []string{"eigentd.yml", "eigentd.yaml"}

// Config holds daemon configuration.
type Config struct {
	// Addr is the HTTP API listen address.
	Addr string `yaml:"addr"`
	// BackendURL is the base URL of the remote execution backend.
	BackendURL string `yaml:"backend_url"`
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
	// HooksDir holds notification hook scripts.
	HooksDir string `yaml:"hooks_dir"`
	// PollInterval is the coordinator tick period, as a Go duration string.
	PollInterval string `yaml:"poll_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Addr:         ":7833",
		BackendURL:   "https://api.eigent.ai",
		DBPath:       filepath.Join(home, ".local", "share", "eigent", "eigentd.db"),
		HooksDir:     filepath.Join(home, ".config", "eigent", "hooks"),
		PollInterval: "2s",
	}
}

// DefaultDir returns the default config directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "eigent")
}

// FindConfigFile returns the first existing config file in dir, or "".
func FindConfigFile(dir string) string {
	for _, name := range ConfigFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads configuration: defaults, overlaid with the YAML file at path
// (if non-empty), overlaid with environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("EIGENT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("EIGENT_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("EIGENT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("EIGENT_HOOKS_DIR"); v != "" {
		cfg.HooksDir = v
	}

	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.HooksDir = expandPath(cfg.HooksDir)

	if _, err := cfg.Interval(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Interval parses PollInterval.
func (c *Config) Interval() (time.Duration, error) {
	if c.PollInterval == "" {
		return 2 * time.Second, nil
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("parse poll_interval %q: %w", c.PollInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll_interval must be positive, got %q", c.PollInterval)
	}
	return d, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
