package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Codec.Secret = "0123456789abcdef0123"
	cfg.Keys.MasterKey = "bWFzdGVyLWtleS1tYXN0ZXIta2V5LW1hc3Rlci1rZXk="
	return cfg
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := validConfig()
	cfg.Delivery.Backend = BackendSQLite
	cfg.Delivery.Retention = Duration{time.Hour}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, loaded.Delivery.Backend)
	assert.Equal(t, time.Hour, loaded.Delivery.Retention.Duration)
	assert.Equal(t, cfg.Codec.Secret, loaded.Codec.Secret)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[codec]
secret = "0123456789abcdef0123"

[keys]
master_key = "bWFzdGVyLWtleS1tYXN0ZXIta2V5LW1hc3Rlci1rZXk="

[delivery]
retention = "24h"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9090", cfg.Server.Addr)
	assert.Equal(t, BackendRedis, cfg.Delivery.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Delivery.Retention.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Delivery.PruneInterval.Duration)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short codec secret", func(c *Config) { c.Codec.Secret = "short" }},
		{"missing master key", func(c *Config) { c.Keys.MasterKey = "" }},
		{"unknown backend", func(c *Config) { c.Delivery.Backend = "postgres" }},
		{"sqlite without path", func(c *Config) {
			c.Delivery.Backend = BackendSQLite
			c.Delivery.SQLitePath = ""
		}},
		{"zero retention", func(c *Config) { c.Delivery.Retention = Duration{} }},
	}

	require.NoError(t, validConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, Save(path, validConfig()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
