// Package config loads service configuration from the environment. A .env
// file in the working directory is read first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Server captures everything cmd/server needs to wire the service.
type Server struct {
	Addr        string        `env:"WILLVAULT_ADDR" envDefault:":8080"`
	Environment string        `env:"WILLVAULT_ENV" envDefault:"local"`
	LogLevel    string        `env:"WILLVAULT_LOG_LEVEL" envDefault:"info"`
	Store       string        `env:"WILLVAULT_STORE" envDefault:"memory"`
	TxTimeout   time.Duration `env:"WILLVAULT_TX_TIMEOUT" envDefault:"5s"`

	Auth     AuthConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Audit    AuditConfig
	Limits   RateLimitConfig
	Otel     OtelConfig
}

type AuthConfig struct {
	JWTSigningKey        string        `env:"WILLVAULT_JWT_SIGNING_KEY"`
	JWTIssuer            string        `env:"WILLVAULT_JWT_ISSUER" envDefault:"willvault"`
	CapabilitySigningKey string        `env:"WILLVAULT_CAPABILITY_SIGNING_KEY"`
	CapabilityTTL        time.Duration `env:"WILLVAULT_CAPABILITY_TTL" envDefault:"1h"`
	AdminToken           string        `env:"WILLVAULT_ADMIN_TOKEN"`
}

type DatabaseConfig struct {
	URL             string        `env:"WILLVAULT_DATABASE_URL"`
	MaxOpenConns    int           `env:"WILLVAULT_DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"WILLVAULT_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"WILLVAULT_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig is optional. An empty URL disables the distributed will lease.
type RedisConfig struct {
	URL          string        `env:"WILLVAULT_REDIS_URL"`
	PoolSize     int           `env:"WILLVAULT_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"WILLVAULT_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"WILLVAULT_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"WILLVAULT_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WILLVAULT_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	LeaseTTL     time.Duration `env:"WILLVAULT_LEASE_TTL" envDefault:"10s"`
	LeaseWait    time.Duration `env:"WILLVAULT_LEASE_WAIT" envDefault:"3s"`
}

// KafkaConfig is optional. Without brokers audit events stay in the store.
type KafkaConfig struct {
	Brokers       []string `env:"WILLVAULT_KAFKA_BROKERS" envSeparator:","`
	ClientID      string   `env:"WILLVAULT_KAFKA_CLIENT_ID" envDefault:"willvault"`
	AuditTopic    string   `env:"WILLVAULT_KAFKA_AUDIT_TOPIC" envDefault:"willvault.audit"`
	ConsumerGroup string   `env:"WILLVAULT_KAFKA_CONSUMER_GROUP"`
	Partitions    int32    `env:"WILLVAULT_KAFKA_PARTITIONS" envDefault:"3"`
	Replication   int16    `env:"WILLVAULT_KAFKA_REPLICATION" envDefault:"1"`
}

type AuditConfig struct {
	// AsyncBuffer queues events off the request path. Only honored with the
	// memory store; Postgres appends join the will transaction.
	AsyncBuffer int `env:"WILLVAULT_AUDIT_ASYNC_BUFFER" envDefault:"0"`
}

// RateLimitConfig sets per-caller sliding windows. Buckets live in Redis when
// it is configured, otherwise in process memory.
type RateLimitConfig struct {
	Disabled          bool          `env:"WILLVAULT_RATELIMIT_DISABLED" envDefault:"false"`
	Window            time.Duration `env:"WILLVAULT_RATELIMIT_WINDOW" envDefault:"1m"`
	ReadRequests      int           `env:"WILLVAULT_RATELIMIT_READ" envDefault:"100"`
	WriteRequests     int           `env:"WILLVAULT_RATELIMIT_WRITE" envDefault:"50"`
	SensitiveRequests int           `env:"WILLVAULT_RATELIMIT_SENSITIVE" envDefault:"10"`
}

type OtelConfig struct {
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"willvault"`
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file, then parses and validates the environment.
func Load() (Server, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv parses the process environment without touching .env files.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c Server) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			errs = append(errs, errors.New("WILLVAULT_DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, errors.New("WILLVAULT_TX_TIMEOUT must be positive"))
	}
	if c.Auth.JWTSigningKey == "" {
		if !c.IsLocal() {
			errs = append(errs, errors.New("WILLVAULT_JWT_SIGNING_KEY is required outside local"))
		}
	}
	if c.Auth.CapabilitySigningKey != "" && c.Auth.CapabilitySigningKey == c.Auth.JWTSigningKey {
		errs = append(errs, errors.New("capability and caller tokens must use different signing keys"))
	}
	return errors.Join(errs...)
}

func (c Server) IsLocal() bool {
	return c.Environment == "local"
}

// JWTSigningKey falls back to a development key in local mode.
func (c Server) JWTSigningKey() string {
	if c.Auth.JWTSigningKey == "" {
		return "dev-secret-key-change-in-production"
	}
	return c.Auth.JWTSigningKey
}

// CapabilitySigningKey falls back to a key derived from the caller key so
// local setups work with a single secret.
func (c Server) CapabilitySigningKey() string {
	if c.Auth.CapabilitySigningKey == "" {
		return c.JWTSigningKey() + ":capability"
	}
	return c.Auth.CapabilitySigningKey
}
