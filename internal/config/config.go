// Package config loads runtime settings from defaults, an optional config
// file, a .env file and CHAT_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RateLimitConfig defines the per-connection inbound frame budget.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// ServerConfig configures the HTTP listener and real-time connections.
type ServerConfig struct {
	Port            string          `mapstructure:"port"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	MaxMessageSize  int64           `mapstructure:"max_message_size"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	SendBuffer      int             `mapstructure:"send_buffer"`
}

// AuthConfig holds the credential signing secret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StoreConfig selects the record store driver.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// MongoConfig configures the MongoDB store. Transactions requires a
// replica set.
type MongoConfig struct {
	URI          string        `mapstructure:"uri"`
	Database     string        `mapstructure:"database"`
	Transactions bool          `mapstructure:"transactions"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RedisConfig configures REST throttling. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Limit    int           `mapstructure:"limit"`
	Window   time.Duration `mapstructure:"window"`
}

// KafkaConfig configures the change event log. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config holds every runtime setting.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// ErrMissingSecret is returned when no JWT secret is configured.
var ErrMissingSecret = errors.New("auth.jwt_secret is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("server.max_message_size", 4096)
	v.SetDefault("server.rate_limit.burst", 5)
	v.SetDefault("server.rate_limit.refill_interval", time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.send_buffer", 256)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("store.driver", DriverMongo)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("mongo.transactions", true)
	v.SetDefault("mongo.timeout", 10*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.limit", 60)
	v.SetDefault("redis.window", time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat.events")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "chat-back")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Env values for list keys arrive as one comma-separated string.
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	cfg = Sanitize(cfg)
	if cfg.Auth.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return &cfg, nil
}

// Sanitize replaces unusable values with defaults.
func Sanitize(cfg Config) Config {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = 4096
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = 5
	}
	if cfg.Server.RateLimit.RefillInterval <= 0 {
		cfg.Server.RateLimit.RefillInterval = time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.SendBuffer <= 0 {
		cfg.Server.SendBuffer = 256
	}

	if cfg.Store.Driver != DriverMemory {
		cfg.Store.Driver = DriverMongo
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "chat"
	}
	if cfg.Mongo.Timeout <= 0 {
		cfg.Mongo.Timeout = 10 * time.Second
	}

	if cfg.Redis.Limit <= 0 {
		cfg.Redis.Limit = 60
	}
	if cfg.Redis.Window <= 0 {
		cfg.Redis.Window = time.Minute
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "chat.events"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "chat-back"
	}
	if cfg.Telemetry.SampleRatio <= 0 || cfg.Telemetry.SampleRatio > 1 {
		cfg.Telemetry.SampleRatio = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
