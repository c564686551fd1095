package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:metagraph.db", cfg.Database.DSN)
	assert.Equal(t, 1000, cfg.Cache.MappingCacheSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"bind_address": ":9090", "timeout": "5s"},
		"database": {"driver": "postgres", "dsn": "postgres://localhost/metagraph"},
		"nats": {"url": "nats://localhost:4222"},
		"logging": {"level": "debug", "format": "json"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.BindAddress)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("METAGRAPH_BIND_ADDRESS", ":7070")
	t.Setenv("METAGRAPH_DB_DRIVER", "postgres")
	t.Setenv("METAGRAPH_DB_DSN", "postgres://db/metagraph")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.BindAddress)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db/metagraph", cfg.Database.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"bad timeout", func(c *Config) { c.Server.TimeoutStr = "soon" }},
		{"timeout out of range", func(c *Config) { c.Server.TimeoutStr = "10m" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative cache", func(c *Config) { c.Cache.MappingCacheSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
