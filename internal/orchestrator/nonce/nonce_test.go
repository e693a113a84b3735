package nonce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsContiguousRangeFromChainNonce(t *testing.T) {
	tbl := NewTable()
	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:abc", 10)

	first, err := tbl.Acquire("alice.testnet", "ed25519:abc", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), first)

	first2, err := tbl.Acquire("alice.testnet", "ed25519:abc", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), first2)
}

func TestUpdateNonceFromBlockchainNeverRewindsHighWater(t *testing.T) {
	tbl := NewTable()
	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:abc", 10)
	first, err := tbl.Acquire("alice.testnet", "ed25519:abc", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), first)

	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:abc", 10) // stale read
	next, err := tbl.Acquire("alice.testnet", "ed25519:abc", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), next)
}

func TestReleaseDoesNotRewindHighWaterMark(t *testing.T) {
	tbl := NewTable()
	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:abc", 0)
	first, err := tbl.Acquire("alice.testnet", "ed25519:abc", 2)
	require.NoError(t, err)
	tbl.Release("alice.testnet", "ed25519:abc", 2)

	next, err := tbl.Acquire("alice.testnet", "ed25519:abc", 1)
	require.NoError(t, err)
	assert.Equal(t, first+2, next)
}

func TestReleaseAllDropsTableEntry(t *testing.T) {
	tbl := NewTable()
	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:abc", 5)
	_, err := tbl.Acquire("alice.testnet", "ed25519:abc", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.OutstandingCount("alice.testnet", "ed25519:abc"))

	tbl.ReleaseAll("alice.testnet", "ed25519:abc")
	assert.Equal(t, 0, tbl.OutstandingCount("alice.testnet", "ed25519:abc"))
}

func TestAcquireRejectsNonPositiveCount(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Acquire("alice.testnet", "ed25519:abc", 0)
	require.Error(t, err)
}

func TestDistinctAccessKeysAreIndependent(t *testing.T) {
	tbl := NewTable()
	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:key1", 100)
	tbl.UpdateNonceFromBlockchain("alice.testnet", "ed25519:key2", 5)

	n1, _ := tbl.Acquire("alice.testnet", "ed25519:key1", 1)
	n2, _ := tbl.Acquire("alice.testnet", "ed25519:key2", 1)
	assert.Equal(t, uint64(101), n1)
	assert.Equal(t, uint64(6), n2)
}
