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
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8780, cfg.Server.HTTPPort)
	assert.Equal(t, "file", cfg.Artifacts.Backend)
	assert.Equal(t, "sqlite", cfg.Workflow.StateBackend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.Tiers.SlowTTL)
	assert.Equal(t, int64(1<<20), cfg.Output.Defaults.Inline)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9000
cache:
  backend: redis
workflow:
  state_backend: redis
  engine:
    max_concurrent_steps: 2
output:
  lease_ttl: 30m
providers:
  video:
    api_key: test-key
    rps: 0.5
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis", cfg.Workflow.StateBackend)
	assert.Equal(t, 2, cfg.Workflow.Engine.MaxConcurrentSteps)
	assert.Equal(t, 30*time.Minute, cfg.Output.LeaseTTL)
	assert.Equal(t, "test-key", cfg.Providers.Video.APIKey)
	assert.InDelta(t, 0.5, cfg.Providers.Video.RPS, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, "file", cfg.Artifacts.Backend)
	assert.Equal(t, 2.0, cfg.Providers.Text.RPS)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/mediaforge.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8780, cfg.Server.HTTPPort)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEDIAFORGE_SERVER_HTTP_PORT", "7070")
	t.Setenv("MEDIAFORGE_CACHE_TIERS_SLOW_TTL", "2h")
	t.Setenv("MEDIAFORGE_PROVIDERS_TEXT_API_KEY", "env-key")
	t.Setenv("MEDIAFORGE_METRICS_ENABLED", "false")
	t.Setenv("MEDIAFORGE_LOG_OUTPUT_PATHS", "stdout, /var/log/mediaforge.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Hour, cfg.Cache.Tiers.SlowTTL)
	assert.Equal(t, "env-key", cfg.Providers.Text.APIKey)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/mediaforge.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))
	t.Setenv("MEDIAFORGE_SERVER_HTTP_PORT", "9500")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Server.HTTPPort)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad artifact backend", func(c *Config) { c.Artifacts.Backend = "s3" }, "artifact backend"},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache backend"},
		{"bad state backend", func(c *Config) { c.Workflow.StateBackend = "etcd" }, "state backend"},
		{"bad concurrency", func(c *Config) { c.Workflow.Engine.MaxConcurrentSteps = 0 }, "max_concurrent_steps"},
		{"bad thresholds", func(c *Config) { c.Output.Defaults.Inline = 0 }, "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestCustomValidatorRuns(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Providers.Text.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
