package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RateLimit RateLimitConfig
	Billing   BillingConfig
	Reporter  ReporterConfig
}

// RateLimitConfig controls the per-user fixed-window request limiter.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration

	// RedisAddr switches the window counter store from the in-process map
	// to Redis when set. Required for multi-instance deployments.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// BillingConfig holds external billing provider credentials.
type BillingConfig struct {
	APIBaseURL     string
	SecretKey      string
	WebhookSecret  string
	PriceID        string
	RequestTimeout time.Duration
}

// ReporterConfig controls the usage reconciliation loop.
type ReporterConfig struct {
	Interval         time.Duration
	LogRetentionDays int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "metergate"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "metergate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RateLimit: RateLimitConfig{
			MaxRequests:   getenvInt("RATE_LIMIT_PER_WINDOW", 100),
			Window:        getenvDuration("RATE_LIMIT_WINDOW", time.Minute),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
		},
		Billing: BillingConfig{
			APIBaseURL:     getenv("BILLING_API_BASE_URL", "https://api.stripe.com"),
			SecretKey:      strings.TrimSpace(getenv("BILLING_SECRET_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("BILLING_WEBHOOK_SECRET", "")),
			PriceID:        strings.TrimSpace(getenv("BILLING_METERED_PRICE_ID", "")),
			RequestTimeout: getenvDuration("BILLING_REQUEST_TIMEOUT", 15*time.Second),
		},
		Reporter: ReporterConfig{
			Interval:         getenvDuration("USAGE_REPORTING_INTERVAL", time.Minute),
			LogRetentionDays: getenvInt("USAGE_LOG_RETENTION_DAYS", 90),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
