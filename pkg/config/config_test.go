package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "https://api.dandiarchive.org/api", cfg.Archive.APIBaseURL)
	assert.Equal(t, 30, cfg.Archive.RequestTimeoutSeconds)
	assert.Equal(t, 360, cfg.Cache.TTLMinutes)
	assert.Equal(t, 4, cfg.Sync.LindiWorkers)
	assert.Equal(t, 2000, cfg.Sync.MaxAssetsPerDandiset)
	assert.Equal(t, 1000, cfg.Sync.ErrorMessageLimit)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARCHIVE_REQUEST_TIMEOUT_SECONDS", "5")
	t.Setenv("SYNC_LINDI_WORKERS", "16")
	t.Setenv("PGDATABASE", "mirror_test")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Archive.RequestTimeoutSeconds)
	assert.Equal(t, 16, cfg.Sync.LindiWorkers)
	assert.Equal(t, "mirror_test", cfg.Database.Database)
}

func TestValidateRejectsNonPositiveValues(t *testing.T) {
	t.Setenv("CACHE_TTL_MINUTES", "0")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache TTL")
}

func TestConnectionString(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", c.ConnectionString())
}
