// Package config loads and validates the facilitator's startup
// configuration. Validation happens exactly once here; request handlers
// receive the typed result and never read ambient environment state.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the validated service configuration.
type Config struct {
	Port string `validate:"required"`

	// Network is the SVM network identifier this deployment services.
	Network string `validate:"required"`

	// SolanaRPCURL / SolanaWSURL override the network defaults when set.
	SolanaRPCURL string
	SolanaWSURL  string

	// SvmPrivateKey is the facilitator fee-payer key, base58 encoded.
	SvmPrivateKey string `validate:"required"`

	// TrustlessProgramID enables job registration when set.
	TrustlessProgramID string

	// RegisterJobDiscriminator optionally overrides the derived Anchor
	// discriminator, hex encoded (16 characters).
	RegisterJobDiscriminator string `validate:"omitempty,len=16,hexadecimal"`

	// Crossmint custodial wallet support. Both empty disables the
	// custodial path entirely.
	CrossmintBaseURL string
	CrossmintAPIKey  string

	// AmikoAuthSecret guards custodial settle requests. Leaving it unset
	// makes those requests fail closed with a configuration error.
	AmikoAuthSecret string

	LogLevel string
}

// Load reads .env (when present) plus the environment, and validates the
// result. Missing required keys are startup errors.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", "4022"),
		Network:                  getEnv("SVM_NETWORK", "solana-devnet"),
		SolanaRPCURL:             os.Getenv("SOLANA_RPC_URL"),
		SolanaWSURL:              os.Getenv("SOLANA_WS_URL"),
		SvmPrivateKey:            os.Getenv("SVM_PRIVATE_KEY"),
		TrustlessProgramID:       os.Getenv("TRUSTLESS_PROGRAM_ID"),
		RegisterJobDiscriminator: os.Getenv("REGISTER_JOB_DISCRIMINATOR"),
		CrossmintBaseURL:         os.Getenv("CROSSMINT_BASE_URL"),
		CrossmintAPIKey:          os.Getenv("CROSSMINT_API_KEY"),
		AmikoAuthSecret:          os.Getenv("AMIKO_AUTH_SECRET"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CrossmintEnabled reports whether the custodial path is configured.
func (c *Config) CrossmintEnabled() bool {
	return c.CrossmintAPIKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
