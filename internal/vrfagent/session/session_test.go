package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintDispenseExhaust(t *testing.T) {
	store := NewStore()
	id, err := Mint(store, 60*time.Second, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		token, err := Dispense(store, id)
		require.NoError(t, err)
		assert.Len(t, token, 32)
	}

	_, err = Dispense(store, id)
	require.Error(t, err)

	status := Status(store, id)
	assert.Equal(t, StatusExhausted, status.Status)
	assert.Equal(t, 0, status.RemainingUses)
}

func TestDispenseRejectsExpiredRegardlessOfRemainingUses(t *testing.T) {
	store := NewStore()
	id, err := Mint(store, time.Millisecond, 5)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = Dispense(store, id)
	require.Error(t, err)

	status := Status(store, id)
	assert.Equal(t, StatusExpired, status.Status)
}

func TestStatusNotFound(t *testing.T) {
	store := NewStore()
	status := Status(store, "does-not-exist")
	assert.Equal(t, StatusNotFound, status.Status)
}

func TestMintRejectsInvalidInputs(t *testing.T) {
	store := NewStore()

	_, err := Mint(store, 0, 1)
	require.Error(t, err)

	_, err = Mint(store, time.Second, -1)
	require.Error(t, err)
}

func TestReapRemovesOnlyExpiredSessions(t *testing.T) {
	store := NewStore()
	short, err := Mint(store, time.Millisecond, 1)
	require.NoError(t, err)
	long, err := Mint(store, time.Minute, 1)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	reaped := Reap(store)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, StatusNotFound, Status(store, short).Status)
	assert.Equal(t, StatusActive, Status(store, long).Status)
}

func TestClearDropsAllSessions(t *testing.T) {
	store := NewStore()
	_, err := Mint(store, time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, Len(store))

	Clear(store)
	assert.Equal(t, 0, Len(store))
}

func TestSessionIDsAreUnique(t *testing.T) {
	store := NewStore()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := Mint(store, time.Minute, 1)
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
