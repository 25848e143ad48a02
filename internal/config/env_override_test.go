package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("PLUGDISC_PLUGIN_DIR replaces dir", func(t *testing.T) {
		t.Setenv("PLUGDISC_PLUGIN_DIR", "/opt/plugins")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/opt/plugins", cfg.Plugins.Dir)
	})

	t.Run("PLUGDISC_CATALOG_PATH enables the catalog", func(t *testing.T) {
		t.Setenv("PLUGDISC_CATALOG_PATH", "/tmp/catalog.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Catalog.Enabled)
		assert.Equal(t, "/tmp/catalog.db", cfg.Catalog.Path)
	})

	t.Run("empty variables leave values alone", func(t *testing.T) {
		t.Setenv("PLUGDISC_LOG_LEVEL", "")
		t.Setenv("PLUGDISC_LISTEN", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "127.0.0.1:8089", cfg.Server.Listen)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing dir", func(c *Config) { c.Plugins.Dir = "" }, "Plugins.Dir"},
		{"zero parallelism", func(c *Config) { c.Plugins.Parallelism = 0 }, "Parallelism"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Logging.Level"},
		{"bad driver", func(c *Config) { c.Catalog.Driver = "postgres" }, "Catalog.Driver"},
		{"catalog without path", func(c *Config) { c.Catalog.Enabled = true; c.Catalog.Path = "" }, "Catalog.Path"},
		{"bad listen", func(c *Config) { c.Server.Listen = "nope" }, "Server.Listen"},
		{"bad timeout", func(c *Config) { c.Loader.LoadTimeout = "soon" }, "load_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
