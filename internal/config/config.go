// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSecret signs access tokens (HS256). Required when auth is enabled.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim (e.g. "game-backend").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "game-client").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// SessionTTL is the session lifetime (e.g. "720h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// OpsAPIToken guards the operator endpoints (X-Ops-Token header). Required for /ops routes.
	OpsAPIToken string `mapstructure:"OPS_API_TOKEN"`

	// PublishDrainEnabled gates the publish-drain subsystem. When false, drain starts are no-ops.
	PublishDrainEnabled bool `mapstructure:"PUBLISH_DRAIN_ENABLED"`
	// PublishDrainMaxConcurrent is the drain capacity limit; values below 1 are treated as 1.
	PublishDrainMaxConcurrent int `mapstructure:"PUBLISH_DRAIN_MAX_CONCURRENT"`
	// VersionGraceMinutesDefault is the default grace period for release activation.
	VersionGraceMinutesDefault int `mapstructure:"VERSION_GRACE_MINUTES_DEFAULT"`
	// WSTicketTTLSeconds is the lifetime of one-time websocket connection tickets; minimum 10.
	WSTicketTTLSeconds int `mapstructure:"WS_TICKET_TTL_SECONDS"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the lifecycle pipeline.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// LifecycleKafkaTopic is the topic drain lifecycle events are written to.
	LifecycleKafkaTopic string `mapstructure:"LIFECYCLE_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the lifecycle worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the worker pushes lifecycle events to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "game-backend")
	v.SetDefault("JWT_AUDIENCE", "game-client")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SESSION_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OPS_API_TOKEN", "")
	v.SetDefault("PUBLISH_DRAIN_ENABLED", true)
	v.SetDefault("PUBLISH_DRAIN_MAX_CONCURRENT", 1)
	v.SetDefault("VERSION_GRACE_MINUTES_DEFAULT", 5)
	v.SetDefault("WS_TICKET_TTL_SECONDS", 45)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LIFECYCLE_KAFKA_TOPIC", "game-drain-lifecycle")
	v.SetDefault("KAFKA_GROUP_ID", "game-lifecycle-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.PublishDrainMaxConcurrent < 1 {
		cfg.PublishDrainMaxConcurrent = 1
	}
	if cfg.WSTicketTTLSeconds < 10 {
		cfg.WSTicketTTLSeconds = 10
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// SessionLifetime parses SessionTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// WSTicketTTL returns the websocket ticket lifetime as a duration.
func (c *Config) WSTicketTTL() time.Duration {
	return time.Duration(c.WSTicketTTLSeconds) * time.Second
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the lifecycle pipeline is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
