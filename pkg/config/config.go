package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the workflow store. Empty means in-memory;
	// a postgres:// URL or a file path for SQLite selects SQL.
	DatabaseURL string

	// RedisAddr selects the delivery queue backend. Empty means the
	// in-memory queue.
	RedisAddr string

	// WebhookSigningKey is the master key webhook signatures derive
	// from. The server refuses to start without one unless deliveries
	// are disabled.
	WebhookSigningKey string

	// JWTSecret signs and verifies API tokens. Empty disables token
	// auth and falls back to header identification, for development
	// only.
	JWTSecret string

	// ReviewScorer selects the content review implementation:
	// "heuristic" (default) or "wasm" with ReviewWASMPath set.
	ReviewScorer   string
	ReviewWASMPath string
	ReviewWorkers  int

	// ProfilesDir holds per-tenant approval policy YAML files.
	ProfilesDir string

	DeliveryPollInterval time.Duration
	RateLimitRPS         int

	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:                 getenv("PORT", "8080"),
		LogLevel:             getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		WebhookSigningKey:    os.Getenv("WEBHOOK_SIGNING_KEY"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		ReviewScorer:         getenv("REVIEW_SCORER", "heuristic"),
		ReviewWASMPath:       os.Getenv("REVIEW_WASM_PATH"),
		ReviewWorkers:        getint("REVIEW_WORKERS", 4),
		ProfilesDir:          getenv("PROFILES_DIR", "profiles"),
		DeliveryPollInterval: getduration("DELIVERY_POLL_INTERVAL", 250*time.Millisecond),
		RateLimitRPS:         getint("RATE_LIMIT_RPS", 20),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
