// Package config loads the collaboration server configuration from a YAML
// file, COLLAB_ environment variables and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qamatch/collab/pkg/observability"
)

// APIConfig defines the HTTP server configuration
type APIConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

// WebSocketConfig holds WebSocket server configuration
type WebSocketConfig struct {
	MaxMessageSize int64                    `mapstructure:"max_message_size"`
	PingInterval   time.Duration            `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration            `mapstructure:"write_timeout"`
	SendBuffer     int                      `mapstructure:"send_buffer"`
	AllowedOrigins []string                 `mapstructure:"allowed_origins"`
	RateLimit      WebSocketRateLimitConfig `mapstructure:"rate_limit"`
}

// WebSocketRateLimitConfig holds per-connection rate limiting configuration
type WebSocketRateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// CollaborationConfig tunes session bookkeeping
type CollaborationConfig struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	RetiredHistoryTail int           `mapstructure:"retired_history_tail"`
	RetiredSessions    int           `mapstructure:"retired_sessions"`
	MaxSessionAge      time.Duration `mapstructure:"max_session_age"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// StorageConfig selects and configures the content store
type StorageConfig struct {
	Type     string         `mapstructure:"type"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// DatabaseConfig contains SQL database connection settings
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// BreakerConfig configures the circuit breaker and retries around the store
type BreakerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxFailures     uint32        `mapstructure:"max_failures"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

// Config holds the complete application configuration
type Config struct {
	Environment   string                      `mapstructure:"environment"`
	API           APIConfig                   `mapstructure:"api"`
	WebSocket     WebSocketConfig             `mapstructure:"websocket"`
	Collaboration CollaborationConfig         `mapstructure:"collaboration"`
	Storage       StorageConfig               `mapstructure:"storage"`
	Logging       observability.LoggingConfig `mapstructure:"logging"`
	Metrics       observability.MetricsConfig `mapstructure:"metrics"`
	Tracing       observability.TracingConfig `mapstructure:"tracing"`
}

// Observability returns the settings consumed by observability.NewProvider
func (c *Config) Observability() observability.Config {
	return observability.Config{
		Logging: c.Logging,
		Metrics: c.Metrics,
		Tracing: c.Tracing,
	}
}

// Load loads configuration from file and environment variables. The file
// is taken from COLLAB_CONFIG_FILE, falling back to configs/config.yaml; a
// missing file is not an error.
func Load() (*Config, error) {
	configFile := os.Getenv("COLLAB_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	return LoadFile(configFile)
}

// LoadFile loads configuration from the given file, environment variables
// and defaults
func LoadFile(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	// Common docker-compose variable names
	_ = v.BindEnv("storage.redis.address", "COLLAB_STORAGE_REDIS_ADDRESS", "REDIS_ADDR")
	_ = v.BindEnv("storage.database.dsn", "COLLAB_STORAGE_DATABASE_DSN", "DATABASE_URL")

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	processEnvExpansion(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Collaboration.HistoryLimit <= 0 {
		return fmt.Errorf("collaboration.history_limit must be positive, got %d", c.Collaboration.HistoryLimit)
	}
	if c.Collaboration.RetiredHistoryTail < 0 {
		return fmt.Errorf("collaboration.retired_history_tail must not be negative, got %d", c.Collaboration.RetiredHistoryTail)
	}
	if c.Collaboration.SweepInterval <= 0 {
		return fmt.Errorf("collaboration.sweep_interval must be positive, got %s", c.Collaboration.SweepInterval)
	}
	if (c.Storage.Type == "postgres" || c.Storage.Type == "sqlite") && c.Storage.Database.DSN == "" {
		return fmt.Errorf("storage.database.dsn is required for storage type %q", c.Storage.Type)
	}
	return nil
}

// processEnvExpansion processes environment variable expansions in config values
// Supports ${VAR} and ${VAR:-default} syntax
func processEnvExpansion(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok || value == "" {
			continue
		}
		if strings.Contains(value, "${") && strings.Contains(value, "}") {
			if expanded := expandEnvVars(value); expanded != value {
				v.Set(key, expanded)
			}
		}
	}
}

// expandEnvVars expands environment variables in a string
func expandEnvVars(value string) string {
	result := value

	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}

		offset := strings.Index(result[start:], "}")
		if offset == -1 {
			break
		}
		end := start + offset

		varRef := result[start+2 : end]

		var envVar, defaultVal string
		if strings.Contains(varRef, ":-") {
			parts := strings.SplitN(varRef, ":-", 2)
			envVar = parts[0]
			defaultVal = parts[1]
		} else {
			envVar = varRef
		}

		envVal := os.Getenv(envVar)
		if envVal == "" {
			envVal = defaultVal
		}

		result = result[:start] + envVal + result[end+1:]
	}

	return result
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	// API defaults
	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.shutdown_timeout", 10*time.Second)
	v.SetDefault("api.mode", "release")

	// WebSocket defaults
	v.SetDefault("websocket.max_message_size", 1048576)
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("websocket.rate_limit.rate", 50.0)
	v.SetDefault("websocket.rate_limit.burst", 100)

	// Collaboration defaults
	v.SetDefault("collaboration.history_limit", 1000)
	v.SetDefault("collaboration.retired_history_tail", 100)
	v.SetDefault("collaboration.retired_sessions", 128)
	v.SetDefault("collaboration.max_session_age", 24*time.Hour)
	v.SetDefault("collaboration.sweep_interval", 10*time.Minute)

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "collab:content:")
	v.SetDefault("storage.redis.dial_timeout", 5*time.Second)
	v.SetDefault("storage.redis.read_timeout", 3*time.Second)
	v.SetDefault("storage.redis.write_timeout", 3*time.Second)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.database.driver", "postgres")
	v.SetDefault("storage.database.dsn", "")
	v.SetDefault("storage.database.max_open_conns", 25)
	v.SetDefault("storage.database.max_idle_conns", 5)
	v.SetDefault("storage.database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("storage.breaker.enabled", true)
	v.SetDefault("storage.breaker.max_failures", 5)
	v.SetDefault("storage.breaker.open_timeout", 30*time.Second)
	v.SetDefault("storage.breaker.max_retries", 3)
	v.SetDefault("storage.breaker.initial_interval", 100*time.Millisecond)

	// Observability defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.prefix", "collab")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "collab")
	v.SetDefault("metrics.subsystem", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "collab-server")
}
