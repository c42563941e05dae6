// Package config loads the gateway configuration from YAML with
// environment-variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("mediaforge.yaml").
//	    WithEnvPrefix("MEDIAFORGE").
//	    Load()
//
// Precedence: defaults, then the YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/cache"
	"github.com/mediaforge/mediaforge/output"
	"github.com/mediaforge/mediaforge/workflow"
)

// Config is the full gateway configuration.
type Config struct {
	// Server configures the HTTP front-end that serves leased URLs.
	Server ServerConfig `yaml:"server"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Artifacts configures the durable artifact store.
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Cache configures the tiered output cache.
	Cache CacheConfig `yaml:"cache"`

	// Redis is shared by the cache slow tier and the workflow state
	// store when either selects the redis backend.
	Redis RedisConfig `yaml:"redis"`

	// Workflow configures the engine and its state store.
	Workflow WorkflowConfig `yaml:"workflow"`

	// Output configures delivery thresholds and serving leases.
	Output output.Config `yaml:"output"`

	// Providers configures the generative provider adapters.
	Providers ProvidersConfig `yaml:"providers"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// OutputPaths lists zap sinks, e.g. stdout or file paths.
	OutputPaths  []string `yaml:"output_paths"`
	EnableCaller bool     `yaml:"enable_caller"`
}

// ArtifactsConfig configures the artifact store.
type ArtifactsConfig struct {
	// Backend is file or memory.
	Backend string `yaml:"backend"`
	// Store holds the file backend settings.
	Store artifact.FileStoreConfig `yaml:"store"`
}

// CacheConfig selects the slow-tier backend and tunes both tiers.
type CacheConfig struct {
	// Backend is file or redis.
	Backend string `yaml:"backend"`
	// Dir is the slow-tier directory for the file backend.
	Dir string `yaml:"dir"`
	// Tiers holds the shared tier settings.
	Tiers cache.Config `yaml:"tiers"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// WorkflowConfig configures the engine and its state store.
type WorkflowConfig struct {
	// StateBackend is memory, file, sqlite, or redis.
	StateBackend string `yaml:"state_backend"`
	// StateDir is the instance directory for the file backend.
	StateDir string `yaml:"state_dir"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
	// Engine holds scheduling and retry settings.
	Engine workflow.EngineConfig `yaml:"engine"`
}

// ProviderConfig configures one provider adapter.
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// RPS rate-limits outbound calls; zero disables the limiter.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ProvidersConfig configures the adapters by capability.
type ProvidersConfig struct {
	Text  ProviderConfig `yaml:"text"`
	Image ProviderConfig `yaml:"image"`
	Video ProviderConfig `yaml:"video"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Port      int    `yaml:"port"`
}

// Loader loads configuration with a builder interface.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader with the MEDIAFORGE env
// prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEDIAFORGE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an
// error; defaults and environment variables still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv walks the struct and overrides fields from
// environment variables named after the uppercased yaml tags, e.g.
// MEDIAFORGE_CACHE_TIERS_SLOW_TTL.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		tag := fieldType.Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		envKey := prefix + "_" + strings.ToUpper(tag)

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Map {
			// Per-kind threshold maps are file-only.
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	switch c.Artifacts.Backend {
	case "file", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown artifact backend %q", c.Artifacts.Backend))
	}
	switch c.Cache.Backend {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	switch c.Workflow.StateBackend {
	case "memory", "file", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown workflow state backend %q", c.Workflow.StateBackend))
	}
	if c.Workflow.Engine.MaxConcurrentSteps <= 0 {
		errs = append(errs, "max_concurrent_steps must be positive")
	}
	if err := c.Output.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
