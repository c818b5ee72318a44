// Package config loads the tasksync configuration from an optional YAML file
// and TASKSYNC_* environment variables.
//
// Environment variables map onto nested keys with underscores, e.g.
// TASKSYNC_API_BASE_URL sets api.base_url.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/Sternrassler/tasksync/pkg/query"
	"github.com/Sternrassler/tasksync/pkg/taskapi"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "TASKSYNC"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full tasksync configuration.
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Query        QueryConfig        `mapstructure:"query"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// APIConfig configures the task API client.
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	UserID       string        `mapstructure:"user_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	Burst        int           `mapstructure:"burst"`
	ReadAttempts int           `mapstructure:"read_attempts"`
}

// QueryConfig configures the query coordinator.
type QueryConfig struct {
	StaleTime            time.Duration `mapstructure:"stale_time"`
	GCTime               time.Duration `mapstructure:"gc_time"`
	RefetchOnFocus       bool          `mapstructure:"refetch_on_focus"`
	RefetchOnReconnect   bool          `mapstructure:"refetch_on_reconnect"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
}

// StorageConfig selects the durable storage backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// ConnectivityConfig configures the online/offline tracker.
type ConnectivityConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the metrics endpoint of long-running commands.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// setDefaults registers every key so environment variables can override
// keys absent from the file.
func setDefaults(v *viper.Viper) {
	api := taskapi.DefaultConfig("http://localhost:3000", "")
	q := query.DefaultConfig()

	v.SetDefault("api.base_url", api.BaseURL)
	v.SetDefault("api.user_id", api.UserID)
	v.SetDefault("api.timeout", api.Timeout)
	v.SetDefault("api.rate_limit", api.RateLimit)
	v.SetDefault("api.burst", api.Burst)
	v.SetDefault("api.read_attempts", api.ReadRetry.MaxAttempts)

	v.SetDefault("query.stale_time", q.StaleTime)
	v.SetDefault("query.gc_time", q.GCTime)
	v.SetDefault("query.refetch_on_focus", q.RefetchOnFocus)
	v.SetDefault("query.refetch_on_reconnect", q.RefetchOnReconnect)
	v.SetDefault("query.max_concurrent_fetches", q.MaxConcurrentFetches)

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "tasksync.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "tasksync:")

	v.SetDefault("connectivity.failure_threshold", 1)
	v.SetDefault("connectivity.probe_interval", 15*time.Second)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", ":9090")
}

// Default returns the configuration used when neither a file nor
// environment variables are present.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads path (if non-empty) and the environment, then validates the
// result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be > 0 (got %s)", c.API.Timeout))
	}
	if c.API.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit must be > 0 (got %v)", c.API.RateLimit))
	}
	if c.API.ReadAttempts < 1 {
		errs = append(errs, fmt.Errorf("api.read_attempts must be >= 1 (got %d)", c.API.ReadAttempts))
	}
	if c.Query.StaleTime < 0 {
		errs = append(errs, fmt.Errorf("query.stale_time must be >= 0 (got %s)", c.Query.StaleTime))
	}
	if c.Query.GCTime <= 0 {
		errs = append(errs, fmt.Errorf("query.gc_time must be > 0 (got %s)", c.Query.GCTime))
	}
	if c.Query.MaxConcurrentFetches < 1 {
		errs = append(errs, fmt.Errorf("query.max_concurrent_fetches must be >= 1 (got %d)", c.Query.MaxConcurrentFetches))
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of memory, sqlite, redis (got %q)", c.Storage.Backend))
	}
	if c.Connectivity.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("connectivity.failure_threshold must be >= 1 (got %d)", c.Connectivity.FailureThreshold))
	}
	return errors.Join(errs...)
}

// TaskAPI converts the API section into a client configuration.
func (c Config) TaskAPI() taskapi.Config {
	cfg := taskapi.DefaultConfig(c.API.BaseURL, c.API.UserID)
	cfg.Timeout = c.API.Timeout
	cfg.RateLimit = c.API.RateLimit
	cfg.Burst = c.API.Burst
	cfg.ReadRetry.MaxAttempts = c.API.ReadAttempts
	return cfg
}

// Queries converts the query section into a coordinator configuration.
func (c Config) Queries() query.Config {
	return query.Config{
		StaleTime:            c.Query.StaleTime,
		GCTime:               c.Query.GCTime,
		RefetchOnFocus:       c.Query.RefetchOnFocus,
		RefetchOnReconnect:   c.Query.RefetchOnReconnect,
		MaxConcurrentFetches: c.Query.MaxConcurrentFetches,
	}
}

// Logging converts the log section into a logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}
