// Package config loads the YAML application configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

// ServerConfig describes the CalDAV account the frontend talks to.
type ServerConfig struct {
	// BaseURL is the server root, e.g. "https://cloud.example.com".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Type selects the path layout: nextcloud, baikal, radicale or generic.
	Type string `yaml:"type" json:"type"`
	Username string `yaml:"username" json:"username"`
	// Password is a login password or an app token.
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the JSON API.
	Listen string `yaml:"listen" json:"listen"`

	Server ServerConfig `yaml:"server" json:"server"`

	// RefreshCron is a cron-style schedule for periodic calendar
	// re-discovery (e.g. "*/15 * * * *"). Empty disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Database is the SQLite path for stored preferences. Empty keeps
	// preferences in memory only.
	Database string `yaml:"database" json:"database"`

	// FetchTimeout bounds one multi-calendar fetch batch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Server:       ServerConfig{Type: string(caldav.ServerGeneric)},
		RefreshCron:  "*/15 * * * *",
		FetchTimeout: 20 * time.Second,
		LogLevel:     "info",
	}
}

// Normalize fills in missing values so partially-filled configs behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Server.Type == "" {
		c.Server.Type = string(caldav.ServerGeneric)
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configs the application cannot start with.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("%w: server.base_url is required", caldav.ErrInvalidConfiguration)
	}
	if c.Server.Username == "" {
		return fmt.Errorf("%w: server.username is required", caldav.ErrInvalidConfiguration)
	}
	return nil
}

// Load reads the YAML config. A missing file is created with defaults and
// 0600 permissions so credentials can be filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the config atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".caldav-frontend-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
