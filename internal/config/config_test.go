package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "generic", cfg.Server.Type)
	assert.Equal(t, 20*time.Second, cfg.FetchTimeout)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "credentials file must not be world readable")
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{
		Listen: "0.0.0.0:9000",
		Server: ServerConfig{
			BaseURL:  "https://cloud.example.com",
			Type:     "nextcloud",
			Username: "alice",
			Password: "token",
		},
		RefreshCron: "@hourly",
		Database:    "/var/lib/caldav-frontend/prefs.db",
		LogLevel:    "debug",
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", loaded.Listen)
	assert.Equal(t, "nextcloud", loaded.Server.Type)
	assert.Equal(t, "alice", loaded.Server.Username)
	assert.Equal(t, "@hourly", loaded.RefreshCron)
	assert.Equal(t, 20*time.Second, loaded.FetchTimeout, "zero timeout is normalized")
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "generic", cfg.Server.Type)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.ErrorIs(t, cfg.Validate(), caldav.ErrInvalidConfiguration)

	cfg.Server.BaseURL = "https://cloud.example.com"
	require.ErrorIs(t, cfg.Validate(), caldav.ErrInvalidConfiguration)

	cfg.Server.Username = "alice"
	require.NoError(t, cfg.Validate())
}
