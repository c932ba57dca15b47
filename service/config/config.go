package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Blink configuration
	BlinkAPIEndpoint    string
	BlinkAPIKey         string
	BlinkWalletCurrency string
	MaxRetries          int
	RetryDelay          time.Duration
	RequestTimeout      time.Duration

	// LNURL configuration
	LNURLTimeout time.Duration

	// Donation configuration
	DonationAddress      string
	DonationMemo         string
	MinDonation          int64
	MaxDonation          int64
	PaymentCheckInterval time.Duration
	PaymentTimeout       time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Values from a .env file in the working directory are loaded first when present;
// variables already set in the environment take precedence.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "satsforward-donations")

	// Blink configuration
	cfg.BlinkAPIEndpoint = getEnvOrDefault("BLINK_API_ENDPOINT", "https://api.blink.sv/graphql")
	cfg.BlinkAPIKey = os.Getenv("BLINK_API_KEY")
	if cfg.BlinkAPIKey == "" {
		errs = append(errs, fmt.Errorf("BLINK_API_KEY is required"))
	}
	cfg.BlinkWalletCurrency = strings.ToUpper(getEnvOrDefault("BLINK_WALLET_CURRENCY", "BTC"))

	maxRetries, err := parseInt("MAX_RETRIES", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxRetries = maxRetries
	}

	retryDelay, err := parseDuration("RETRY_DELAY", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RetryDelay = retryDelay
	}

	requestTimeout, err := parseDuration("BLINK_REQUEST_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RequestTimeout = requestTimeout
	}

	// LNURL configuration
	lnurlTimeout, err := parseDuration("LNURL_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LNURLTimeout = lnurlTimeout
	}

	// Donation configuration
	cfg.DonationAddress = getEnvOrDefault("DONATION_ADDRESS", "citadel@blink.sv")
	cfg.DonationMemo = getEnvOrDefault("DONATION_MEMO", "운동 기부")

	minDonation, err := parseInt64("MIN_DONATION", 1)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinDonation = minDonation
	}

	maxDonation, err := parseInt64("MAX_DONATION", 1_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxDonation = maxDonation
	}

	checkInterval, err := parseDuration("PAYMENT_CHECK_INTERVAL", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PaymentCheckInterval = checkInterval
	}

	paymentTimeout, err := parseDuration("PAYMENT_TIMEOUT", "300s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PaymentTimeout = paymentTimeout
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.BlinkAPIEndpoint == "" {
		errs = append(errs, fmt.Errorf("BlinkAPIEndpoint is required"))
	}

	if c.BlinkAPIKey == "" {
		errs = append(errs, fmt.Errorf("BlinkAPIKey is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MaxRetries must be at least 1"))
	}

	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("RetryDelay cannot be negative"))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RequestTimeout must be positive"))
	}

	if c.LNURLTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LNURLTimeout must be positive"))
	}

	if c.LNURLTimeout >= c.PaymentTimeout {
		errs = append(errs, fmt.Errorf("LNURLTimeout (%v) must be shorter than PaymentTimeout (%v)",
			c.LNURLTimeout, c.PaymentTimeout))
	}

	if !strings.Contains(c.DonationAddress, "@") {
		errs = append(errs, fmt.Errorf("DonationAddress %q is not a lightning address", c.DonationAddress))
	}

	if c.MinDonation < 1 {
		errs = append(errs, fmt.Errorf("MinDonation must be at least 1"))
	}

	if c.MinDonation > c.MaxDonation {
		errs = append(errs, fmt.Errorf("MinDonation (%d) cannot be greater than MaxDonation (%d)",
			c.MinDonation, c.MaxDonation))
	}

	if c.PaymentCheckInterval < time.Second {
		errs = append(errs, fmt.Errorf("PaymentCheckInterval must be at least 1 second"))
	}

	if c.PaymentTimeout < c.PaymentCheckInterval {
		errs = append(errs, fmt.Errorf("PaymentTimeout cannot be less than PaymentCheckInterval"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// loadDotEnv loads variables from path without overriding the process environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt64 is parseInt for sat amounts.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
