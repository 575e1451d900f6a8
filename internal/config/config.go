package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	AllowedOrigins []string // WebSocket origins; empty allows same-origin only

	// Durable queue
	QueueStream string
	QueueGroup  string
	QueueMaxLen int64

	// Persistence worker
	WorkerEnabled   bool
	WorkerBatchSize int
	WorkerBlock     time.Duration
	WorkerBackoff   time.Duration

	// Presence
	PresenceTTL     time.Duration
	PresenceRefresh time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/murmur.db"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:          os.Getenv("NATS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
		QueueStream:      getEnv("QUEUE_STREAM", "msg_write_queue"),
		QueueGroup:       getEnv("QUEUE_GROUP", "persist-workers"),
		QueueMaxLen:      int64(getInt("QUEUE_MAX_LEN", 100000)),
		WorkerEnabled:    getEnv("WORKER_ENABLED", "true") == "true",
		WorkerBatchSize:  getInt("WORKER_BATCH_SIZE", 100),
		WorkerBlock:      getDuration("WORKER_BLOCK", time.Second),
		WorkerBackoff:    getDuration("WORKER_BACKOFF", 5*time.Second),
		PresenceTTL:      getDuration("PRESENCE_TTL", time.Hour),
		PresenceRefresh:  getDuration("PRESENCE_REFRESH", 5*time.Minute),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))

	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if os.Getenv("REDIS_URL") == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-insecure-secret"
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
