package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the process configuration, parsed from the environment so main
// stays lean. A .env file is honored when present.
type Config struct {
	Addr     string `env:"REGISTRAR_ADDR" envDefault:":8080"`
	LogLevel string `env:"REGISTRAR_LOG_LEVEL" envDefault:"info"`

	// JWTSigningKey protects the status API. Override outside development.
	JWTSigningKey string `env:"REGISTRAR_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`

	// PostgresURL enables the persistent event log and pending-identity
	// store; empty keeps everything in memory.
	PostgresURL string `env:"REGISTRAR_POSTGRES_URL"`
	// RedisURL enables shared adapter state (watermarks, id cache, rooms).
	RedisURL string `env:"REGISTRAR_REDIS_URL"`

	// KafkaBrokers enables the event fan-out sink.
	KafkaBrokers []string `env:"REGISTRAR_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"REGISTRAR_KAFKA_TOPIC" envDefault:"identity-verifications"`

	Twitter     TwitterConfig
	DisplayName DisplayNameConfig
}

// TwitterConfig carries the adapter's credentials and polling cadence.
type TwitterConfig struct {
	Enabled        bool          `env:"REGISTRAR_TWITTER_ENABLED" envDefault:"false"`
	ScreenName     string        `env:"REGISTRAR_TWITTER_SCREEN_NAME"`
	APIKey         string        `env:"REGISTRAR_TWITTER_API_KEY"`
	APISecret      string        `env:"REGISTRAR_TWITTER_API_SECRET"`
	Token          string        `env:"REGISTRAR_TWITTER_TOKEN"`
	TokenSecret    string        `env:"REGISTRAR_TWITTER_TOKEN_SECRET"`
	PollInterval   time.Duration `env:"REGISTRAR_TWITTER_POLL_INTERVAL" envDefault:"60s"`
	RequestTimeout time.Duration `env:"REGISTRAR_TWITTER_REQUEST_TIMEOUT" envDefault:"15s"`
}

// DisplayNameConfig controls the display-name matcher.
type DisplayNameConfig struct {
	Enabled bool `env:"REGISTRAR_DISPLAY_NAME_ENABLED" envDefault:"true"`
	// Limit is the similarity above which a name is rejected as a
	// lookalike of an already verified one, in [0, 1].
	Limit float64 `env:"REGISTRAR_DISPLAY_NAME_LIMIT" envDefault:"0.85"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	// Best effort; absence of a .env file is the common case.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
