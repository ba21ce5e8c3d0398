// Package config loads service configuration from .env, an optional TOML file
// and JOBQUEST_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Request  RequestConfig  `mapstructure:"request"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// CacheConfig selects the cache backend and its bounds. TTLSeconds maps a
// cache class (entity type, "search", "default", ...) to its time-to-live.
type CacheConfig struct {
	Backend    string         `mapstructure:"backend"`
	RedisURL   string         `mapstructure:"redis_url"`
	Namespace  string         `mapstructure:"namespace"`
	MaxEntries int            `mapstructure:"max_entries"`
	TTLSeconds map[string]int `mapstructure:"ttl_seconds"`
}

type LoaderConfig struct {
	WaitMS   int `mapstructure:"wait_ms"`
	MaxBatch int `mapstructure:"max_batch"`
}

type RequestConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

type LLMConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// TTLs converts the TTL table into durations.
func (c CacheConfig) TTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TTLSeconds))
	for class, seconds := range c.TTLSeconds {
		out[class] = time.Duration(seconds) * time.Second
	}
	return out
}

// Wait is the batch window debounce.
func (c LoaderConfig) Wait() time.Duration {
	return time.Duration(c.WaitMS) * time.Millisecond
}

// Timeout is the per-request execution budget.
func (c RequestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads .env (when present), then the config file named by
// JOBQUEST_CONFIG (when set), then JOBQUEST_* environment variables.
func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("JOBQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)
	SetDefaults(v)

	if path := os.Getenv("JOBQUEST_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	if c.Loader.MaxBatch < 0 {
		return fmt.Errorf("loader.max_batch must not be negative")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}

// bindEnv binds keys whose conventional variable names predate the prefix.
func bindEnv(v *viper.Viper) {
	v.BindEnv("database.dsn", "JOBQUEST_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("cache.redis_url", "JOBQUEST_CACHE_REDIS_URL", "REDIS_URL")
	v.BindEnv("llm.api_key", "JOBQUEST_LLM_API_KEY", "GEMINI_API_KEY")
}
