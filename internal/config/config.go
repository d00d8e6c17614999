package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string

	// Credential vault key material. Never logged.
	CredentialKey     string
	CredentialKeySalt string

	PollInterval    int // seconds
	ShutdownTimeout int // seconds
	MaxAttempts     int
	LeaseTTL        int // seconds
	RetentionDays   int

	ToastBaseURL    string
	RateLimitBudget int
	RateLimitWindow int // seconds
	PageSize        int
	PageDelayMs     int
	MaxWindowDays   int
	BackfillDays    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	credentialKey := os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if credentialKey == "" {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}

	return &Config{
		DatabaseURL:       dbURL,
		HTTPAddr:          envString("HTTP_ADDR", ":8080"),
		CredentialKey:     credentialKey,
		CredentialKeySalt: envString("CREDENTIAL_KEY_SALT", "possync-credential-vault"),
		PollInterval:      envInt("POLL_INTERVAL_SECONDS", 5),
		ShutdownTimeout:   envInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		MaxAttempts:       envInt("MAX_ATTEMPTS", 3),
		LeaseTTL:          envInt("LEASE_TTL_SECONDS", 300),
		RetentionDays:     envInt("JOB_RETENTION_DAYS", 30),
		ToastBaseURL:      envString("TOAST_BASE_URL", "https://ws-api.toasttab.com"),
		RateLimitBudget:   envInt("RATE_LIMIT_BUDGET", 1000),
		RateLimitWindow:   envInt("RATE_LIMIT_WINDOW_SECONDS", 3600),
		PageSize:          envInt("VENDOR_PAGE_SIZE", 100),
		PageDelayMs:       envInt("VENDOR_PAGE_DELAY_MS", 200),
		MaxWindowDays:     envInt("MAX_WINDOW_DAYS", 30),
		BackfillDays:      envInt("DEFAULT_BACKFILL_DAYS", 90),
	}, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
