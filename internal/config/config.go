// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	BaseURL   string // public base URL used for checkout redirect targets

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment provider (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	ProviderTimeout     time.Duration // per-call timeout for provider API requests
	CommissionBPS       int64         // platform commission in basis points (500 = 5%)
	Currency            string        // platform settlement currency

	// Booking
	ReservationTTL time.Duration // payment window for pending reservations
	SweepInterval  time.Duration // expiry sweeper cadence
	MaxStayNights  int           // upper bound on a single stay

	// Subscription billing
	BillingInterval time.Duration // billing driver cadence
	TrialDays       int
	GraceDays       int
	RetryBaseDelay  time.Duration // first dunning retry delay, doubled per attempt
	RetryMaxCount   int

	// Security
	ReceiptSecret  string // HMAC secret for signed receipts
	AdminToken     string // platform-operator API token
	RateLimitRPM   int
	AllowedOrigins []string

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector, empty disables tracing
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultBaseURL         = "http://localhost:8080"
	DefaultCurrency        = "EUR"
	DefaultCommissionBPS   = 500
	DefaultReservationTTL  = 10 * time.Minute
	DefaultSweepInterval   = 5 * time.Minute
	DefaultMaxStayNights   = 90
	DefaultBillingInterval = 6 * time.Hour
	DefaultTrialDays       = 30
	DefaultGraceDays       = 7
	DefaultRetryBaseDelay  = 6 * time.Hour
	DefaultRetryMaxCount   = 5
	DefaultProviderTimeout = 10 * time.Second
	DefaultRateLimit       = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		BaseURL:             getEnv("BASE_URL", DefaultBaseURL),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		CommissionBPS:       getEnvInt64("COMMISSION_BPS", DefaultCommissionBPS),
		Currency:            getEnv("CURRENCY", DefaultCurrency),
		ReservationTTL:      getEnvDuration("RESERVATION_TTL", DefaultReservationTTL),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		MaxStayNights:       int(getEnvInt64("MAX_STAY_NIGHTS", DefaultMaxStayNights)),
		BillingInterval:     getEnvDuration("BILLING_INTERVAL", DefaultBillingInterval),
		TrialDays:           int(getEnvInt64("TRIAL_DAYS", DefaultTrialDays)),
		GraceDays:           int(getEnvInt64("GRACE_DAYS", DefaultGraceDays)),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", DefaultRetryBaseDelay),
		RetryMaxCount:       int(getEnvInt64("RETRY_MAX_COUNT", DefaultRetryMaxCount)),
		ReceiptSecret:       os.Getenv("RECEIPT_SECRET"),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CommissionBPS < 0 || c.CommissionBPS > 10000 {
		return fmt.Errorf("COMMISSION_BPS must be between 0 and 10000")
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive")
	}
	if c.TrialDays < 0 || c.GraceDays < 0 {
		return fmt.Errorf("TRIAL_DAYS and GRACE_DAYS must not be negative")
	}
	if c.RetryMaxCount < 1 {
		return fmt.Errorf("RETRY_MAX_COUNT must be at least 1")
	}

	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AdminToken == "" {
			return fmt.Errorf("ADMIN_TOKEN is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
