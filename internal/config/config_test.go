package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "metergate", cfg.AppName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBType)

	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Empty(t, cfg.RateLimit.RedisAddr)

	assert.Equal(t, "https://api.stripe.com", cfg.Billing.APIBaseURL)
	assert.Equal(t, 15*time.Second, cfg.Billing.RequestTimeout)

	assert.Equal(t, time.Minute, cfg.Reporter.Interval)
	assert.Equal(t, 90, cfg.Reporter.LogRetentionDays)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("RATE_LIMIT_PER_WINDOW", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("BILLING_SECRET_KEY", " sk_test_123 ")
	t.Setenv("USAGE_REPORTING_INTERVAL", "2m")
	t.Setenv("USAGE_LOG_RETENTION_DAYS", "30")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "sk_test_123", cfg.Billing.SecretKey)
	assert.Equal(t, 2*time.Minute, cfg.Reporter.Interval)
	assert.Equal(t, 30, cfg.Reporter.LogRetentionDays)
}

func TestLoadIgnoresGarbageValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_WINDOW", "not-a-number")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	cfg := Load()

	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}
