package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
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

	// Chain configuration
	ChainRPCURL  string
	ChainID      int64
	NativeSymbol string

	// Token contract addresses, keyed by symbol (e.g. USDC, USDT)
	TokenContracts map[string]string

	// Relayer (gas sponsorship) configuration
	RelayerAddress    string
	RelayerPrivateKey string

	// Custodial user wallet keys (development keyring; production uses a KMS)
	CustodyKeys []string

	// Handle registry configuration
	HandleSuffix string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Reconciliation configuration
	ReconcileInterval time.Duration
	ReconcileMinAge   time.Duration
	ReconcileMaxAge   time.Duration

	// History pagination
	DefaultPageSize int
	MaxPageSize     int
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

	// Chain configuration
	cfg.ChainRPCURL = os.Getenv("CHAIN_RPC_URL")
	if cfg.ChainRPCURL == "" {
		errs = append(errs, fmt.Errorf("CHAIN_RPC_URL is required"))
	}

	chainID, err := parseInt64("CHAIN_ID", "80002")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ChainID = chainID
	}

	cfg.NativeSymbol = getEnvOrDefault("NATIVE_SYMBOL", "POL")

	// Token contracts
	cfg.TokenContracts = map[string]string{}
	usdcContract := os.Getenv("USDC_CONTRACT_ADDRESS")
	if usdcContract == "" {
		errs = append(errs, fmt.Errorf("USDC_CONTRACT_ADDRESS is required"))
	} else {
		cfg.TokenContracts["USDC"] = usdcContract
	}
	if usdtContract := os.Getenv("USDT_CONTRACT_ADDRESS"); usdtContract != "" {
		cfg.TokenContracts["USDT"] = usdtContract
		if usdtContract == usdcContract {
			errs = append(errs, fmt.Errorf("USDC_CONTRACT_ADDRESS and USDT_CONTRACT_ADDRESS must be different"))
		}
	}

	// Relayer configuration
	cfg.RelayerAddress = os.Getenv("RELAYER_ADDRESS")
	if cfg.RelayerAddress == "" {
		errs = append(errs, fmt.Errorf("RELAYER_ADDRESS is required"))
	}
	cfg.RelayerPrivateKey = os.Getenv("RELAYER_PRIVATE_KEY")
	if cfg.RelayerPrivateKey == "" {
		errs = append(errs, fmt.Errorf("RELAYER_PRIVATE_KEY is required"))
	}

	// Custody keyring (comma-separated hex private keys; optional)
	if keys := os.Getenv("CUSTODY_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.CustodyKeys = append(cfg.CustodyKeys, k)
			}
		}
	}

	// Handle registry configuration
	cfg.HandleSuffix = getEnvOrDefault("HANDLE_SUFFIX", "@caja")
	if !strings.HasPrefix(cfg.HandleSuffix, "@") {
		errs = append(errs, fmt.Errorf("HANDLE_SUFFIX must start with '@'"))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "caja-settlement")

	// Reconciliation configuration
	reconcileInterval, err := parseDuration("RECONCILE_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileInterval = reconcileInterval
	}

	reconcileMinAge, err := parseDuration("RECONCILE_MIN_AGE", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileMinAge = reconcileMinAge
	}

	reconcileMaxAge, err := parseDuration("RECONCILE_MAX_AGE", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileMaxAge = reconcileMaxAge
	}

	if cfg.ReconcileMinAge > cfg.ReconcileMaxAge {
		errs = append(errs, fmt.Errorf("RECONCILE_MIN_AGE (%v) cannot be greater than RECONCILE_MAX_AGE (%v)",
			cfg.ReconcileMinAge, cfg.ReconcileMaxAge))
	}

	// History pagination
	defaultPageSize, err := parseInt("DEFAULT_PAGE_SIZE", "20")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPageSize = defaultPageSize
	}

	maxPageSize, err := parseInt("MAX_PAGE_SIZE", "100")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxPageSize = maxPageSize
	}

	if cfg.DefaultPageSize > cfg.MaxPageSize {
		errs = append(errs, fmt.Errorf("DEFAULT_PAGE_SIZE (%d) cannot be greater than MAX_PAGE_SIZE (%d)",
			cfg.DefaultPageSize, cfg.MaxPageSize))
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

	if c.ChainRPCURL == "" {
		errs = append(errs, fmt.Errorf("ChainRPCURL is required"))
	}

	if c.ChainID == 0 {
		errs = append(errs, fmt.Errorf("ChainID is required"))
	}

	if len(c.TokenContracts) == 0 {
		errs = append(errs, fmt.Errorf("at least one token contract is required"))
	}

	if c.RelayerAddress == "" {
		errs = append(errs, fmt.Errorf("RelayerAddress is required"))
	}

	if c.RelayerPrivateKey == "" {
		errs = append(errs, fmt.Errorf("RelayerPrivateKey is required"))
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

	if c.ReconcileMinAge > c.ReconcileMaxAge {
		errs = append(errs, fmt.Errorf("ReconcileMinAge cannot be greater than ReconcileMaxAge"))
	}

	if c.ReconcileInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ReconcileInterval must be at least 1 minute"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// TokenContract returns the contract address for a token symbol, if supported.
func (c *Config) TokenContract(symbol string) (string, bool) {
	addr, ok := c.TokenContracts[strings.ToUpper(symbol)]
	return addr, ok
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable with a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration (e.g. '5m', '1h'): %w", key, err)
	}
	return d, nil
}

// parseInt parses an integer from an environment variable with a default.
func parseInt(key, defaultValue string) (int, error) {
	value := getEnvOrDefault(key, defaultValue)
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

// parseInt64 parses a 64-bit integer from an environment variable with a default.
func parseInt64(key, defaultValue string) (int64, error) {
	value := getEnvOrDefault(key, defaultValue)
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
