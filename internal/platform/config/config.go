// Package config loads process configuration from the environment so main
// stays lean. A .env file is honored in development when present.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"VOIDSTREAM_ADDR" envDefault:":8080"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Store selects the record store backend. An empty URL keeps the in-memory
// store, which is fine for single-node deployments.
type Store struct {
	PostgresURL string `env:"DATABASE_URL"`
}

// Redis configures the optional distributed approval lock.
type Redis struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"8"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Kafka configures the optional audit event sink.
type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"voidstream.audit"`
}

// Realtime configures the balance subscription client.
type Realtime struct {
	WSURL                string        `env:"RPC_WS_URL"`
	HTTPURL              string        `env:"RPC_HTTP_URL"`
	MaxReconnectAttempts int           `env:"REALTIME_MAX_RECONNECTS" envDefault:"5"`
	PollInterval         time.Duration `env:"REALTIME_POLL_INTERVAL" envDefault:"30s"`
}

// Config is the full process configuration.
type Config struct {
	Server   Server
	Store    Store
	Redis    Redis
	Kafka    Kafka
	Realtime Realtime
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
