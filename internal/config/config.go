package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Stripe configuration
	StripeSecretKey     string
	StripeWebhookSecret string

	// Operator configuration
	AdminUserID int64
	AdminAPIKey string
	AdminEmail  string

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// Webhook reconciliation
	DedupBackend          string
	DedupWindowSeconds    int
	DedupMaxEntries       int
	SideEffectTimeoutSecs int
	InviteLinkTTLMinutes  int
	TenantsFile           string

	// Reporting
	ReportHourUTC  int
	ExpiryWarnDays int

	// Logging
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                  getEnv("PORT", "10000"),
		Mode:                  getEnv("GIN_MODE", "release"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		StripeSecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
		AdminUserID:           getEnvInt64("ADMIN_USER_ID", 0),
		AdminAPIKey:           getEnv("ADMIN_API_KEY", ""),
		AdminEmail:            getEnv("ADMIN_EMAIL", ""),
		BrevoAPIKey:           getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:        getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:         getEnv("BREVO_FROM_NAME", "Membership Desk"),
		DedupBackend:          getEnv("DEDUP_BACKEND", "memory"),
		DedupWindowSeconds:    getEnvInt("DEDUP_WINDOW_SECONDS", 300),
		DedupMaxEntries:       getEnvInt("DEDUP_MAX_ENTRIES", 1000),
		SideEffectTimeoutSecs: getEnvInt("SIDE_EFFECT_TIMEOUT_SECONDS", 30),
		InviteLinkTTLMinutes:  getEnvInt("INVITE_LINK_TTL_MINUTES", 10),
		TenantsFile:           getEnv("TENANTS_FILE", "tenants.yaml"),
		ReportHourUTC:         getEnvInt("REPORT_HOUR_UTC", 9),
		ExpiryWarnDays:        getEnvInt("EXPIRY_WARN_DAYS", 3),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}

	return nil
}

// DedupWindow returns the idempotency window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// SideEffectTimeout bounds each detached issuance/notification task.
func (c *Config) SideEffectTimeout() time.Duration {
	return time.Duration(c.SideEffectTimeoutSecs) * time.Second
}

// InviteLinkTTL returns how long an issued invite link stays valid.
func (c *Config) InviteLinkTTL() time.Duration {
	return time.Duration(c.InviteLinkTTLMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
