// Package config assembles runtime configuration from CERTMINT_* environment
// variables so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	strutil "certmint/pkg/platform/strings"
)

// Config is the full runtime configuration for the issuance service.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Mirror   MirrorConfig
	Auth     AuthConfig
	Policy   PolicyConfig
	Relay    RelayConfig
	LogLevel string
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// PostgresConfig captures database connection settings. An empty DSN keeps
// the service on the in-memory store (dev mode).
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig captures settings for the mirror repair queue. An empty URL
// keeps the queue in process memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures broker settings for the outbox relay. No brokers
// means the relay stays off.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// MirrorConfig captures the JSON artifact mirror location.
type MirrorConfig struct {
	Root string
}

// AuthConfig captures the two credential schemes: bearer JWTs for humans
// and principal:bcrypt-hash API keys for machine callers.
type AuthConfig struct {
	JWTSigningKey string
	APIKeys       map[string]string
}

// PolicyConfig captures issuance limits. Zero values mean unbounded users
// and unlimited history retention.
type PolicyConfig struct {
	MaxUsers         int
	HistoryRetention time.Duration
}

// RelayConfig captures outbox relay pacing.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// FromEnv builds the configuration from environment variables, applying
// development defaults for everything unset.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:            getenv("CERTMINT_ADDR", ":8080"),
			ReadTimeout:     getenvDuration("CERTMINT_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("CERTMINT_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getenvDuration("CERTMINT_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("CERTMINT_POSTGRES_DSN"),
			MaxOpenConns:    getenvInt("CERTMINT_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getenvInt("CERTMINT_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getenvDuration("CERTMINT_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("CERTMINT_REDIS_URL"),
			PoolSize:     getenvInt("CERTMINT_REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("CERTMINT_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("CERTMINT_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("CERTMINT_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("CERTMINT_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getenvList("CERTMINT_KAFKA_BROKERS"),
			Topic:   getenv("CERTMINT_KAFKA_TOPIC", "certmint.certificate.events"),
		},
		Mirror: MirrorConfig{
			Root: getenv("CERTMINT_MIRROR_ROOT", "./certificates"),
		},
		Auth: AuthConfig{
			JWTSigningKey: getenv("CERTMINT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			APIKeys:       parseAPIKeys(os.Getenv("CERTMINT_API_KEYS")),
		},
		Policy: PolicyConfig{
			MaxUsers:         getenvInt("CERTMINT_MAX_USERS", 0),
			HistoryRetention: getenvDuration("CERTMINT_HISTORY_RETENTION", 0),
		},
		Relay: RelayConfig{
			Interval:  getenvDuration("CERTMINT_RELAY_INTERVAL", 5*time.Second),
			BatchSize: getenvInt("CERTMINT_RELAY_BATCH_SIZE", 100),
		},
		LogLevel: getenv("CERTMINT_LOG_LEVEL", "info"),
	}
}

// parseAPIKeys splits "principal:bcrypt-hash" pairs separated by commas.
// Only the first colon separates name from hash since bcrypt hashes carry
// dollar signs but never colons.
func parseAPIKeys(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	keys := make(map[string]string)
	for _, pair := range strutil.DedupeAndTrim(strings.Split(raw, ",")) {
		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			continue
		}
		keys[name] = hash
	}
	if len(keys) == 0 {
		return nil
	}
	return keys
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
