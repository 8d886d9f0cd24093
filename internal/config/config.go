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

	// Role is the side of the call this deployment drives: "client" or
	// "developer". Each party runs its own instance with its own wallet;
	// only the developer-side instance settles escrows.
	Role string

	// Stores
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis connection string (optional; preferred session store when set)

	// Blockchain settings
	RPCURL           string
	ChainID          int64
	ChainName        string
	EscrowContract   string // Deployed escrow ledger address
	PrivateKey       string // This party's wallet key, hex-encoded, 0x prefix optional
	CurrencyName     string
	CurrencySymbol   string
	BlockExplorerURL string

	// Payment confirmation polling
	ConfirmInterval time.Duration
	ConfirmAttempts int

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector; tracing is a no-op when empty
}

// Sepolia defaults
const (
	DefaultRPCURL           = "https://ethereum-sepolia-rpc.publicnode.com"
	DefaultChainID          = 11155111 // Sepolia
	DefaultChainName        = "Sepolia"
	DefaultCurrencyName     = "Sepolia Ether"
	DefaultCurrencySymbol   = "ETH"
	DefaultBlockExplorerURL = "https://sepolia.etherscan.io"
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultRole             = "developer"
	DefaultConfirmAttempts  = 30
)

// DefaultConfirmInterval between payment receipt polls.
const DefaultConfirmInterval = time.Second

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		Role:             getEnv("ROLE", DefaultRole),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:         os.Getenv("REDIS_URL"),    // Optional
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		ChainName:        getEnv("CHAIN_NAME", DefaultChainName),
		EscrowContract:   os.Getenv("ESCROW_CONTRACT"), // Required, no default
		PrivateKey:       os.Getenv("PRIVATE_KEY"),     // Required, no default
		CurrencyName:     getEnv("CURRENCY_NAME", DefaultCurrencyName),
		CurrencySymbol:   getEnv("CURRENCY_SYMBOL", DefaultCurrencySymbol),
		BlockExplorerURL: getEnv("BLOCK_EXPLORER_URL", DefaultBlockExplorerURL),
		ConfirmInterval:  getEnvDuration("CONFIRM_INTERVAL", DefaultConfirmInterval),
		ConfirmAttempts:  int(getEnvInt64("CONFIRM_ATTEMPTS", DefaultConfirmAttempts)),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.EscrowContract == "" {
		return fmt.Errorf("ESCROW_CONTRACT is required")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.ConfirmAttempts <= 0 {
		return fmt.Errorf("CONFIRM_ATTEMPTS must be positive")
	}

	if c.Role != "client" && c.Role != "developer" {
		return fmt.Errorf("ROLE must be \"client\" or \"developer\", got %q", c.Role)
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
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
