package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RP_ID", "CONTRACT_ID", "RPC_URL", "EXPLORER_URL",
		"RELAY_URL", "SHAMIR_PRIME", "SIGNER_RELAY_BEHAVIOR",
		"DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "LOG_FORMAT", "HTTP_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "fallback", cfg.Relay.DefaultBehavior)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":8443", cfg.Server.Addr)
}

func TestLoadRequiresRPIDAndChain(t *testing.T) {
	clearConfigEnv(t)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RP_ID", "example.near")
	t.Setenv("CONTRACT_ID", "wallet.example.near")
	t.Setenv("RPC_URL", "https://rpc.mainnet.near.org")
	t.Setenv("DATABASE_URL", "postgres://wallet:pw@localhost/wallet")
	t.Setenv("SIGNER_RELAY_BEHAVIOR", "STRICT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "example.near", cfg.RPID)
	assert.Equal(t, "wallet.example.near", cfg.Chain.ContractID)
	assert.Equal(t, "https://rpc.mainnet.near.org", cfg.Chain.RPCURL)
	assert.Equal(t, "postgres://wallet:pw@localhost/wallet", cfg.Store.PostgresDSN)
	assert.Equal(t, "strict", cfg.Relay.DefaultBehavior)
}

func TestNormalizeRejectsUnknownRelayBehavior(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RP_ID", "example.near")
	t.Setenv("CONTRACT_ID", "wallet.example.near")
	t.Setenv("RPC_URL", "https://rpc.mainnet.near.org")
	t.Setenv("DATABASE_URL", "postgres://wallet:pw@localhost/wallet")
	t.Setenv("SIGNER_RELAY_BEHAVIOR", "not-a-real-behavior")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fallback", cfg.Relay.DefaultBehavior)
}

func TestDebugEnvironReportsPresenceNotValue(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RP_ID", "example.near")

	seen := DebugEnviron()
	assert.True(t, seen["RP_ID"])
	assert.False(t, seen["CONTRACT_ID"])
}
