// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Identity
	JWTSecret string // HS256 secret for caller identity tokens

	// Escrow provider (stand-in; the webhook is the completion signal)
	ProviderName          string
	ProviderWebhookSecret string

	// Escrow timing
	EscrowHoldWindow time.Duration // delivery-confirmation hold before auto-release
	SweepInterval    time.Duration // how often the auto-release sweep runs

	// Security
	RateLimitRPM int
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultProviderName = "sandbox"
	DefaultHoldWindow   = 24 * time.Hour
	DefaultSweep        = 2 * time.Minute
	DefaultRateLimit    = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		JWTSecret:             os.Getenv("JWT_SECRET"),
		ProviderName:          getEnv("PROVIDER_NAME", DefaultProviderName),
		ProviderWebhookSecret: os.Getenv("PROVIDER_WEBHOOK_SECRET"),
		EscrowHoldWindow:      getEnvDuration("ESCROW_HOLD_WINDOW", DefaultHoldWindow),
		SweepInterval:         getEnvDuration("SWEEP_INTERVAL", DefaultSweep),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.IsProduction() && c.ProviderWebhookSecret == "" {
		return fmt.Errorf("PROVIDER_WEBHOOK_SECRET is required in production")
	}
	if c.EscrowHoldWindow <= 0 {
		return fmt.Errorf("ESCROW_HOLD_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
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
