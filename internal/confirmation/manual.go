package confirmation

import (
	"context"
	"sync"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// pendingConfirmation is a single outstanding require_click request waiting
// for an external Resolve or Cancel call (e.g. from a WebSocket handler in
// cmd/walletd relaying the user's click).
type pendingConfirmation struct {
	done   chan struct{}
	digest string
	err    error
}

// ManualAgent implements Agent for behavior=require_click by parking the
// request on a channel keyed by request id until an external caller invokes
// Resolve or Cancel, or the context deadline expires.
type ManualAgent struct {
	mu      sync.Mutex
	pending map[string]*pendingConfirmation
}

// NewManualAgent creates an empty ManualAgent.
func NewManualAgent() *ManualAgent {
	return &ManualAgent{pending: make(map[string]*pendingConfirmation)}
}

// Await registers a request id and blocks until Resolve/Cancel is called for
// it or ctx is done. The caller is expected to have already shown the
// rendered intent through whatever UI surface it owns; Confirm below is the
// Agent-interface entry point that wires this together. On ctx done it
// returns a TimeoutExpired error.
func (m *ManualAgent) Await(ctx context.Context, requestID string) (string, error) {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if !ok {
		p = &pendingConfirmation{done: make(chan struct{})}
		m.pending[requestID] = p
	}
	m.mu.Unlock()

	select {
	case <-p.done:
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
		return p.digest, p.err
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
		return "", errors.TimeoutExpired("confirmation")
	}
}

// Resolve delivers the user's confirmation (the digest the UI computed over
// what it displayed) for requestID, unblocking any Await call for it.
func (m *ManualAgent) Resolve(requestID, digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[requestID]
	if !ok {
		p = &pendingConfirmation{done: make(chan struct{})}
		m.pending[requestID] = p
	}
	p.digest = digest
	close(p.done)
}

// Cancel reports a user cancellation for requestID (spec §7 UserCancelled),
// unblocking any Await call for it with a UserCancelled error; Confirm turns
// that error into a non-error Result with Cancelled set.
func (m *ManualAgent) Cancel(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[requestID]
	if !ok {
		p = &pendingConfirmation{done: make(chan struct{})}
		m.pending[requestID] = p
	}
	p.err = errors.UserCancelled("confirmation")
	close(p.done)
}

// Confirm implements Agent. requestID must be supplied via context by the
// Orchestrator (see WithRequestID); without one, Confirm waits under the
// empty request id, which only Resolve("") or Cancel("") can unblock. When
// ctx is done first, Confirm returns Await's TimeoutExpired error.
func (m *ManualAgent) Confirm(ctx context.Context, intent DisplayedIntent, cfg Config) (Result, error) {
	cfg = Normalize(cfg)
	requestID := RequestIDFromContext(ctx)

	digest, err := m.Await(ctx, requestID)
	if err != nil {
		if svcErr := errors.GetServiceError(err); svcErr != nil && svcErr.Code == errors.ErrCodeUserCancelled {
			return Result{Cancelled: true}, nil
		}
		return Result{}, err
	}

	expected := ComputeDigest(intent)
	if digest != expected {
		return Result{}, errors.New(errors.ErrCodeIntentDigestMismatch, "ui reported a digest that does not match the displayed intent", 409).
			WithDetails("displayed_digest", expected).
			WithDetails("reported_digest", digest)
	}
	return Result{Digest: digest}, nil
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx for ManualAgent to key on.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext retrieves a request id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
