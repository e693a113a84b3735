// Package nonce implements the Orchestrator's per-access-key nonce
// reservation table (spec §5): transactions signed in a batch must get
// contiguous, non-overlapping nonces without waiting for each one to land
// on chain, so the table hands out optimistic reservations and reconciles
// against the chain's view when it responds. Grounded on the same
// mutex-guarded table shape as internal/vrfagent/session, generalized
// from a use-counter to a monotonic nonce high-water mark.
package nonce

import (
	"sync"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

type entry struct {
	// highWater is the largest nonce value ever reserved for this key; the
	// next Acquire starts at highWater+1.
	highWater uint64
	// reservedCount tracks outstanding (not yet Released/committed)
	// reservations so Release/ReleaseAll can be verified against them.
	reservedCount int
}

// key identifies one NEAR access key's nonce sequence.
type key struct {
	account   string
	publicKey string
}

// Table is a mutex-guarded map of per-access-key nonce reservation state.
type Table struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[key]*entry)}
}

// UpdateNonceFromBlockchain reconciles the table's high-water mark for
// (account, publicKey) against the access key's current on-chain nonce.
// The on-chain value only ever raises the high-water mark: a stale read
// racing an in-flight reservation must never roll it backward.
func (t *Table) UpdateNonceFromBlockchain(account, publicKey string, onChainNonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{account, publicKey}
	e, ok := t.entries[k]
	if !ok {
		t.entries[k] = &entry{highWater: onChainNonce}
		return
	}
	if onChainNonce > e.highWater {
		e.highWater = onChainNonce
	}
}

// Acquire reserves n contiguous nonces for (account, publicKey) and
// returns the first one; the caller assigns first, first+1, ..., first+n-1
// to its batch of transactions in order.
func (t *Table) Acquire(account, publicKey string, n int) (uint64, error) {
	if n <= 0 {
		return 0, errors.InputValidation("count", "must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{account, publicKey}
	e, ok := t.entries[k]
	if !ok {
		e = &entry{}
		t.entries[k] = e
	}

	first := e.highWater + 1
	e.highWater += uint64(n)
	e.reservedCount += n
	return first, nil
}

// Release returns n previously acquired nonces to the pool without
// rewinding the high-water mark (spec §5: a failed broadcast must not
// reuse a nonce the chain may already have observed in a later-ordered
// request), only decrementing the outstanding-reservation count used for
// diagnostics.
func (t *Table) Release(account, publicKey string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{account, publicKey}
	e, ok := t.entries[k]
	if !ok {
		return
	}
	e.reservedCount -= n
	if e.reservedCount < 0 {
		e.reservedCount = 0
	}
}

// ReleaseAll drops all reservation state for (account, publicKey) —
// used when a device is unlinked or a key is rotated away.
func (t *Table) ReleaseAll(account, publicKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key{account, publicKey})
}

// OutstandingCount reports how many reservations have not yet been
// released for (account, publicKey); used by tests and diagnostics.
func (t *Table) OutstandingCount(account, publicKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key{account, publicKey}]
	if !ok {
		return 0
	}
	return e.reservedCount
}
