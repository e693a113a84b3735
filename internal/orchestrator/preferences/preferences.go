// Package preferences tracks each account's ConfirmationConfig (spec §3)
// and mirrors updates across every device linked to that account, so a
// user who sets ui_mode=skip on one device doesn't get re-prompted on
// another.
package preferences

import (
	"sync"

	"github.com/near-passkey/wallet-engine/internal/confirmation"
)

// Store is a mutex-guarded in-memory preferences table keyed by account.
// cmd/walletd/httpapi reads through to and writes through to
// internal/store's preferences rows around it; this in-memory Store is
// also what unit tests exercise the Orchestrator against directly.
type Store struct {
	mu    sync.RWMutex
	byAcc map[string]confirmation.Config
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byAcc: make(map[string]confirmation.Config)}
}

// Get returns account's current preferences, or the zero Config
// (normalized) if none has been set yet.
func (s *Store) Get(account string) confirmation.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byAcc[account]
	if !ok {
		return confirmation.Normalize(confirmation.Config{})
	}
	return cfg
}

// Set stores account's preferences, applying Normalize so every reader
// sees already-coerced values (spec §3: ui_mode=skip implies
// behavior=auto_proceed).
func (s *Store) Set(account string, cfg confirmation.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAcc[account] = confirmation.Normalize(cfg)
}

// MirrorTarget receives a preference update destined for every device
// linked to an account (e.g. a push to each device's local cache, or a
// websocket broadcast from cmd/walletd).
type MirrorTarget func(account string, cfg confirmation.Config)

// Mirror stores the update and fans it out to every registered target.
// Targets are invoked synchronously in registration order; a slow target
// should hand off to its own goroutine rather than block this call.
func (s *Store) Mirror(account string, cfg confirmation.Config, targets ...MirrorTarget) {
	s.Set(account, cfg)
	normalized := s.Get(account)
	for _, t := range targets {
		t(account, normalized)
	}
}
