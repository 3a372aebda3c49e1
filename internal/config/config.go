// Package config loads runtime configuration.
//
// Precedence is env > YAML file > built-in defaults. A .env file, when present,
// is loaded into the environment first.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"spark/backend/internal/validation"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SPARK_"

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Auth        AuthConfig        `koanf:"auth"`
	Matchmaking MatchmakingConfig `koanf:"matchmaking"`
	AMQP        AMQPConfig        `koanf:"amqp"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Telegram    TelegramConfig    `koanf:"telegram"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	Logging     LoggingConfig     `koanf:"logging"`
}

type ServerConfig struct {
	Addr         string        `koanf:"addr" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	// Driver selects the storage backend: "postgres" or "memory".
	Driver   string `koanf:"driver" validate:"oneof=postgres memory"`
	DSN      string `koanf:"dsn" validate:"required_if=Driver postgres"`
	// Fixtures is a JSON file of profiles loaded by the memory driver.
	Fixtures string `koanf:"fixtures"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr" validate:"required_if=Enabled true"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	Audience  string `koanf:"audience"`
}

// MatchmakingConfig carries the tunables of the queue protocol. The defaults
// are the protocol constants in matchmaking_config.go.
type MatchmakingConfig struct {
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	PollInterval   time.Duration `koanf:"poll_interval" validate:"gt=0"`
	QueueBuffer    time.Duration `koanf:"queue_buffer" validate:"gte=0"`
	Cooldown       time.Duration `koanf:"cooldown" validate:"gte=0"`
	ScanLimit      int           `koanf:"scan_limit" validate:"gt=0"`
	SweepEnabled   bool          `koanf:"sweep_enabled"`
	SweepInterval  time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	ChatPageLimit  int           `koanf:"chat_page_limit" validate:"gt=0"`
	MaxMessageSize int           `koanf:"max_message_size" validate:"gt=0"`
}

type AMQPConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange" validate:"required"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint" validate:"required_if=Enabled true"`
	ServiceName  string `koanf:"service_name" validate:"required"`
}

type TelegramConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token" validate:"required_if=Enabled true"`
}

type RateLimitConfig struct {
	PollPerSecond float64 `koanf:"poll_per_second" validate:"gt=0"`
	PollBurst     int     `koanf:"poll_burst" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// Default returns the built-in configuration layer.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Auth:     AuthConfig{Audience: "authenticated"},
		Matchmaking: MatchmakingConfig{
			Timeout:        MatchTimeout,
			PollInterval:   PollInterval,
			QueueBuffer:    QueueTTLBuffer,
			Cooldown:       RecentSessionCooldown,
			ScanLimit:      CandidateScanLimit,
			SweepEnabled:   true,
			SweepInterval:  SweepInterval,
			ChatPageLimit:  DefaultChatPageLimit,
			MaxMessageSize: MaxChatMessageLength,
		},
		AMQP:      AMQPConfig{Exchange: "spark.events"},
		Telemetry: TelemetryConfig{ServiceName: "spark-backend"},
		RateLimit: RateLimitConfig{PollPerSecond: 1, PollBurst: 3},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the optional file at
// CONFIG_PATH and SPARK_* environment variables, then validates it.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", EnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// EnvKey maps SPARK_MATCHMAKING__POLL_INTERVAL to matchmaking.poll_interval.
func EnvKey(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.Matchmaking.PollInterval > c.Matchmaking.Timeout {
		return fmt.Errorf("matchmaking.poll_interval (%s) exceeds matchmaking.timeout (%s)",
			c.Matchmaking.PollInterval, c.Matchmaking.Timeout)
	}
	return nil
}

// QueueTTL is how long a queue row stays visible after enqueue.
func (m MatchmakingConfig) QueueTTL() time.Duration {
	return m.Timeout + m.QueueBuffer
}
