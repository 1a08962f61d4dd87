// Package config loads service configuration from defaults, an optional
// YAML file and THEMIS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: database.url → THEMIS_DATABASE_URL.
const EnvPrefix = "THEMIS"

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Version         string        `mapstructure:"version"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"` // memory, postgres or sqlite
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
	LogLevel       string `mapstructure:"log_level"`
	// SnapshotPath persists the memory driver to disk when set.
	SnapshotPath string `mapstructure:"snapshot_path"`
}

type CacheConfig struct {
	Backend       string `mapstructure:"backend"` // memory or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	MaxEntries    int64  `mapstructure:"max_entries"`
}

type KnowledgeConfig struct {
	Backend    string `mapstructure:"backend"` // memory or pgvector
	URL        string `mapstructure:"url"`
	Dimensions int    `mapstructure:"dimensions"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// Insecure disables TLS towards the collector.
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type AuthConfig struct {
	// UserHeader carries the user id asserted by the upstream auth layer.
	UserHeader string `mapstructure:"user_header"`
	// APIKeys, when set, must accompany every API request.
	APIKeys []string `mapstructure:"api_keys"`
}

// Load reads configuration. An empty path looks for config.yaml in ./configs
// and the working directory; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// THEMIS_AUTH_API_KEYS arrives as one comma-separated string.
	if len(cfg.Auth.APIKeys) == 1 && strings.Contains(cfg.Auth.APIKeys[0], ",") {
		cfg.Auth.APIKeys = strings.Split(cfg.Auth.APIKeys[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.version", "0.1.0")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.snapshot_path", "")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("knowledge.backend", "memory")
	v.SetDefault("knowledge.url", "")
	v.SetDefault("knowledge.dimensions", 1536)
	v.SetDefault("knowledge.max_entries", 0)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "themis")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("auth.user_header", "X-User-Id")
	v.SetDefault("auth.api_keys", []string{})
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	switch c.Knowledge.Backend {
	case "memory":
	case "pgvector":
		if c.Knowledge.URL == "" {
			return errors.New("knowledge.url is required for the pgvector backend")
		}
		if c.Knowledge.Dimensions <= 0 {
			return fmt.Errorf("invalid knowledge dimensions: %d", c.Knowledge.Dimensions)
		}
	default:
		return fmt.Errorf("unsupported knowledge backend: %s", c.Knowledge.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]: %v", c.Telemetry.SampleRatio)
	}
	return nil
}
