package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment
// variables. All required fields are validated at startup to ensure
// fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// Solana configuration
	SolanaRPCURL string
	WatchAddress string

	// NATS configuration (empty disables event publishing)
	NATSURL string

	// Polling configuration
	PollInterval   time.Duration
	SignatureLimit int

	// Retention bounds how far back stored records are kept.
	// Zero disables pruning.
	Retention time.Duration
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.WatchAddress = os.Getenv("WATCH_ADDRESS")
	if cfg.WatchAddress == "" {
		errs = append(errs, fmt.Errorf("WATCH_ADDRESS is required"))
	} else if _, err := solana.PublicKeyFromBase58(cfg.WatchAddress); err != nil {
		errs = append(errs, fmt.Errorf("WATCH_ADDRESS: invalid address %q: %w", cfg.WatchAddress, err))
	}

	cfg.NATSURL = os.Getenv("NATS_URL")

	pollInterval, err := parseDuration("POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	sigLimit, err := parseInt("SIGNATURE_LIMIT", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SignatureLimit = sigLimit
	}

	retention, err := parseDuration("RETENTION", "0s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Retention = retention
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid. Useful for
// server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid. This is useful for testing
// configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.WatchAddress == "" {
		errs = append(errs, fmt.Errorf("WatchAddress is required"))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if c.SignatureLimit < 1 {
		errs = append(errs, fmt.Errorf("SignatureLimit must be at least 1"))
	}

	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("Retention cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if
// not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a
// default.
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
