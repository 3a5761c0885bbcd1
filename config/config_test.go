package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsRequireBaseURL(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: "file:till.db"
  enable_wal: true
remote:
  base_url: "https://api.example.com/v1"
  request_timeout: 10s
  retry_max: 5
connectivity:
  health_url: "https://api.example.com/healthz"
  interval: 5s
logging:
  level: debug
  format: text
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:till.db", cfg.Database.Path)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.RequestTimeout)
	assert.Equal(t, 5, cfg.Remote.RetryMax)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://api.example.com/healthz", cfg.HealthURL())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  base_url: "https://file.example.com"
`), 0o600))

	t.Setenv("TILLSYNC_REMOTE_BASE_URL", "https://env.example.com")
	t.Setenv("TILLSYNC_REMOTE_RETRY_MAX", "7")
	t.Setenv("TILLSYNC_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 7, cfg.Remote.RetryMax)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Remote.BaseURL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Remote.BaseURL = "https://api.example.com"
	cfg.Remote.RequestTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Remote.BaseURL = "https://api.example.com"
	cfg.Connectivity.Interval = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestHealthURLFallsBackToBase(t *testing.T) {
	cfg := Default()
	cfg.Remote.BaseURL = "https://api.example.com"
	assert.Equal(t, "https://api.example.com/healthz", cfg.HealthURL())
}
