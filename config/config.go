// Package config loads tillsync configuration from an optional YAML file
// with TILLSYNC_* environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/jellydator/validation"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tillsync/tillsync/logging"
)

// DatabaseConfig configures the local SQLite store.
type DatabaseConfig struct {
	Path      string `yaml:"path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

// RemoteConfig configures the HTTP remote client.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryMax       int           `yaml:"retry_max"`
}

// ConnectivityConfig configures the reachability monitor.
type ConnectivityConfig struct {
	HealthURL string        `yaml:"health_url"`
	Interval  time.Duration `yaml:"interval"`
}

// Config is the full application configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Logging      logging.Config     `yaml:"logging"`
}

// Default returns a config with working local defaults. The remote base URL
// has no default and must come from the file or environment.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path:      "file:tillsync.db",
			EnableWAL: true,
		},
		Remote: RemoteConfig{
			RequestTimeout: 30 * time.Second,
			RetryMax:       3,
		},
		Connectivity: ConnectivityConfig{
			Interval: 15 * time.Second,
		},
		Logging: logging.DefaultConfig,
	}
}

// Load builds the config: defaults, then the YAML file at path (skipped when
// path is empty), then environment overrides. A .env file found in the
// working directory or any parent is loaded first. The result is validated.
func Load(path string) (Config, error) {
	loadDotEnv()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv searches for a .env file from the working directory up to the
// filesystem root and loads the first one found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}

// applyEnv overrides config values from TILLSYNC_* environment variables.
func (c *Config) applyEnv() {
	c.Database.Path = env.GetString("TILLSYNC_DATABASE_PATH", c.Database.Path)
	c.Database.EnableWAL = env.GetBool("TILLSYNC_DATABASE_WAL", c.Database.EnableWAL)

	c.Remote.BaseURL = env.GetString("TILLSYNC_REMOTE_BASE_URL", c.Remote.BaseURL)
	c.Remote.RequestTimeout = env.GetDuration("TILLSYNC_REMOTE_TIMEOUT", int64(c.Remote.RequestTimeout), time.Nanosecond)
	c.Remote.RetryMax = env.GetInt("TILLSYNC_REMOTE_RETRY_MAX", c.Remote.RetryMax)

	c.Connectivity.HealthURL = env.GetString("TILLSYNC_HEALTH_URL", c.Connectivity.HealthURL)
	c.Connectivity.Interval = env.GetDuration("TILLSYNC_HEALTH_INTERVAL", int64(c.Connectivity.Interval), time.Nanosecond)

	c.Logging.Level = env.GetString("TILLSYNC_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = env.GetString("TILLSYNC_LOG_FORMAT", c.Logging.Format)
	c.Logging.Environment = env.GetString("TILLSYNC_ENVIRONMENT", c.Logging.Environment)
}

// Validate checks the config for required fields and sane values.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Path, validation.Required),
	); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := validation.ValidateStruct(&c.Remote,
		validation.Field(&c.Remote.BaseURL, validation.Required),
		validation.Field(&c.Remote.RetryMax, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("remote config: %w", err)
	}

	if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote config: base_url must be an absolute URL")
	}
	if c.Remote.RequestTimeout <= 0 {
		return fmt.Errorf("remote config: request_timeout must be positive")
	}
	if c.Connectivity.Interval <= 0 {
		return fmt.Errorf("connectivity config: interval must be positive")
	}
	return nil
}

// HealthURL returns the configured health endpoint, defaulting to the remote
// base URL when unset.
func (c Config) HealthURL() string {
	if c.Connectivity.HealthURL != "" {
		return c.Connectivity.HealthURL
	}
	return c.Remote.BaseURL + "/healthz"
}
