package config

import (
	"time"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/cache"
	"github.com/mediaforge/mediaforge/output"
	"github.com/mediaforge/mediaforge/workflow"
)

// DefaultConfig returns the default gateway configuration. A bare
// Load() with no file and no environment produces this.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Artifacts: DefaultArtifactsConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Output:    output.DefaultConfig(),
		Providers: DefaultProvidersConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultServerConfig returns the default front-end settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8780,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultArtifactsConfig returns the default artifact store settings.
func DefaultArtifactsConfig() ArtifactsConfig {
	return ArtifactsConfig{
		Backend: "file",
		Store: artifact.FileStoreConfig{
			BasePath:      "data/artifacts",
			SweepInterval: 10 * time.Minute,
		},
	}
}

// DefaultCacheConfig returns the default cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend: "file",
		Dir:     "data/cache",
		Tiers:   cache.DefaultConfig(),
	}
}

// DefaultRedisConfig returns the default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultWorkflowConfig returns the default engine settings.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		StateBackend: "sqlite",
		StateDir:     "data/workflows",
		SQLitePath:   "data/mediaforge.db",
		Engine:       workflow.DefaultEngineConfig(),
	}
}

// DefaultProvidersConfig returns the default adapter settings. API
// keys have no defaults; they come from the file or the environment.
func DefaultProvidersConfig() ProvidersConfig {
	p := ProviderConfig{
		Timeout: 5 * time.Minute,
		RPS:     2,
		Burst:   4,
	}
	return ProvidersConfig{Text: p, Image: p, Video: p}
}

// DefaultMetricsConfig returns the default metrics settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "mediaforge",
		Port:      9791,
	}
}
