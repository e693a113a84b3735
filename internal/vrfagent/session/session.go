// Package session implements the VRF Agent's warm signing session table: a
// use-bounded, TTL-bounded ephemeral capability that lets the Signer Agent
// authorize a transaction without another WebAuthn prompt (spec §4.2, P7).
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// Status is the outcome of a session status check.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusNotFound  Status = "not_found"
)

// ephemeralKeySize is the length of the one-shot dispense token.
const ephemeralKeySize = 32

type entry struct {
	remainingUses int
	expiresAt     time.Time
	key           []byte
}

// StatusResult reports a session's current state without revealing its
// ephemeral key material.
type StatusResult struct {
	Status        Status
	RemainingUses int
	ExpiresAtMs   int64
}

// Store is a mutex-guarded table of warm signing sessions. Dispensing is
// strictly FIFO per session id; remaining-uses decrements are linearizable
// because every operation holds the single mutex for its full duration.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// Mint creates a new session with a monotonically decreasing use counter
// and a fixed TTL from now.
func Mint(s *Store, ttl time.Duration, remainingUses int) (string, error) {
	if remainingUses < 0 {
		return "", errors.InputValidation("remaining_uses", "must be >= 0")
	}
	if ttl <= 0 {
		return "", errors.InputValidation("ttl_ms", "must be > 0")
	}

	id := uuid.New().String()

	key := make([]byte, ephemeralKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", errors.InternalInvariant("session key generation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &entry{
		remainingUses: remainingUses,
		expiresAt:     time.Now().Add(ttl),
		key:           key,
	}
	return id, nil
}

// Dispense decrements remaining_uses and returns the ephemeral token
// authorizing one signing operation. Rejects exhausted or expired sessions
// without mutating their state further.
func Dispense(s *Store, sessionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.InputValidation("session_id", "not found")
	}
	if time.Now().After(e.expiresAt) {
		return nil, errors.New(errors.ErrCodeTimeoutExpired, "session expired", 410).
			WithDetails("session_id", sessionID)
	}
	if e.remainingUses <= 0 {
		return nil, errors.InputValidation("session_id", "session exhausted")
	}

	e.remainingUses--
	token := make([]byte, len(e.key))
	copy(token, e.key)
	return token, nil
}

// Status reports a session's current state. Exhausted and expired sessions
// remain queryable (status reporting is not itself a use) until reaped.
func Status(s *Store, sessionID string) StatusResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return StatusResult{Status: StatusNotFound}
	}

	if time.Now().After(e.expiresAt) {
		return StatusResult{Status: StatusExpired, RemainingUses: 0, ExpiresAtMs: e.expiresAt.UnixMilli()}
	}
	if e.remainingUses <= 0 {
		return StatusResult{Status: StatusExhausted, RemainingUses: 0, ExpiresAtMs: e.expiresAt.UnixMilli()}
	}
	return StatusResult{Status: StatusActive, RemainingUses: e.remainingUses, ExpiresAtMs: e.expiresAt.UnixMilli()}
}

// Reap removes every session that has exceeded its TTL and returns the count
// removed. Intended to be called periodically (internal/orchestrator's
// StartReaper wires it to a robfig/cron schedule).
func Reap(s *Store) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reaped := 0
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, id)
			reaped++
		}
	}
	return reaped
}

// Clear drops all session material, e.g. on logout or explicit clear_session.
func Clear(s *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*entry)
}

// Len reports the number of tracked sessions, including expired/exhausted
// ones not yet reaped.
func Len(s *Store) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
