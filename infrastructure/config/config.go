// Package config loads the wallet engine's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ChainConfig controls how internal/chain talks to the NEAR RPC endpoint
// and the contract that verifies VRF proofs and intent digests.
type ChainConfig struct {
	ContractID string `env:"CONTRACT_ID,required"`
	RPCURL     string `env:"RPC_URL,required"`
	ExplorerURL string `env:"EXPLORER_URL"`
}

// RelayConfig controls internal/relay's connection to the threshold-signing
// relayer and the Shamir 3-pass auto-unlock exchange.
type RelayConfig struct {
	RelayURL        string `env:"RELAY_URL"`
	BearerSecret    string `env:"RELAY_BEARER_SECRET"`
	ShamirPrimeB64  string `env:"SHAMIR_PRIME"`
	DefaultBehavior string `env:"SIGNER_RELAY_BEHAVIOR"` // "strict" | "fallback"
}

// StoreConfig controls internal/store's Postgres connection and
// internal/orchestrator's optional Redis nonce-table mirror.
type StoreConfig struct {
	PostgresDSN string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`
}

// LoggingConfig controls infrastructure/logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
}

// ServerConfig controls cmd/walletd's HTTP listener.
type ServerConfig struct {
	Addr string `env:"HTTP_ADDR"`
}

// Config is the wallet engine's top-level configuration.
type Config struct {
	RPID    string `env:"RP_ID,required"`
	Chain   ChainConfig
	Relay   RelayConfig
	Store   StoreConfig
	Logging LoggingConfig
	Server  ServerConfig
}

// New returns a Config populated with defaults, before env overrides.
func New() *Config {
	return &Config{
		Relay: RelayConfig{
			DefaultBehavior: "fallback",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr: ":8443",
		},
	}
}

// Load loads a local .env file if present, then overlays environment
// variables onto a defaulted Config. No secret material is ever part of
// configuration: the PRF output and any key material always arrive
// per-request from the calling application, never from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Relay.DefaultBehavior = strings.ToLower(strings.TrimSpace(c.Relay.DefaultBehavior))
	if c.Relay.DefaultBehavior != "strict" && c.Relay.DefaultBehavior != "fallback" {
		c.Relay.DefaultBehavior = "fallback"
	}
	c.Logging.Level = strings.TrimSpace(c.Logging.Level)
	c.Logging.Format = strings.TrimSpace(c.Logging.Format)
}

// DebugEnviron reports which of the config-relevant environment variables
// are currently set, without their values — useful for a /readyz handler
// confirming deployment wiring without ever logging a secret.
func DebugEnviron() map[string]bool {
	keys := []string{
		"RP_ID", "CONTRACT_ID", "RPC_URL", "EXPLORER_URL",
		"RELAY_URL", "RELAY_BEARER_SECRET", "SHAMIR_PRIME", "SIGNER_RELAY_BEHAVIOR",
		"DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "LOG_FORMAT", "HTTP_ADDR",
	}
	result := make(map[string]bool, len(keys))
	for _, k := range keys {
		_, result[k] = os.LookupEnv(k)
	}
	return result
}
