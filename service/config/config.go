package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Indexer configuration
	IndexerBaseURL string
	IndexerAPIKey  string

	// Token list configuration
	TokenListURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Sync configuration
	PollInterval time.Duration
	SyncInterval time.Duration

	// Classifier thresholds, in whole token / SOL units
	TokenDustThreshold        decimal.Decimal
	NativeThresholdWithTokens decimal.Decimal
	NativeThresholdAlone      decimal.Decimal
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Indexer configuration
	cfg.IndexerBaseURL = os.Getenv("INDEXER_BASE_URL")
	if cfg.IndexerBaseURL == "" {
		errs = append(errs, fmt.Errorf("INDEXER_BASE_URL is required"))
	}
	cfg.IndexerAPIKey = os.Getenv("INDEXER_API_KEY")
	if cfg.IndexerAPIKey == "" {
		errs = append(errs, fmt.Errorf("INDEXER_API_KEY is required"))
	}

	// Token list configuration (empty means the resolver's default)
	cfg.TokenListURL = os.Getenv("TOKEN_LIST_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solledger-wallet-sync")

	// Sync configuration
	pollInterval, err := parseDuration("POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	syncInterval, err := parseDuration("SYNC_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SyncInterval = syncInterval
	}

	// Classifier thresholds
	tokenDust, err := parseDecimal("TOKEN_DUST_THRESHOLD", "0.000001")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenDustThreshold = tokenDust
	}

	nativeWithTokens, err := parseDecimal("NATIVE_THRESHOLD_WITH_TOKENS", "0.001")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NativeThresholdWithTokens = nativeWithTokens
	}

	nativeAlone, err := parseDecimal("NATIVE_THRESHOLD_ALONE", "0.01")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NativeThresholdAlone = nativeAlone
	}

	// Validate intervals
	if cfg.PollInterval > cfg.SyncInterval {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL (%v) cannot be greater than SYNC_INTERVAL (%v)",
			cfg.PollInterval, cfg.SyncInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
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

	if c.IndexerBaseURL == "" {
		errs = append(errs, fmt.Errorf("IndexerBaseURL is required"))
	}

	if c.IndexerAPIKey == "" {
		errs = append(errs, fmt.Errorf("IndexerAPIKey is required"))
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

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if c.PollInterval > c.SyncInterval {
		errs = append(errs, fmt.Errorf("PollInterval cannot be greater than SyncInterval"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
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

// parseDecimal parses a decimal from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: must not be negative, got %q", key, value)
	}
	return d, nil
}
