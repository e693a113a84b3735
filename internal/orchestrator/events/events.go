// Package events implements a minimal per-request progress pub/sub the
// Orchestrator uses to relay Signer/VRF Agent phase transitions out to
// cmd/walletd's websocket handler (spec §4.4: UI should reflect each step
// of a confirmation/signing round as it happens, not just the final
// result).
package events

import "sync"

// Event is one progress notification for a request.
type Event struct {
	RequestID string
	Phase     string
	Detail    string
}

// Subscriber receives events for requests it is interested in.
type Subscriber func(Event)

// Bus fans out events to subscribers registered for a given request id.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]Subscriber
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Subscriber)}
}

// Subscribe registers fn to receive every event published for requestID
// until Unsubscribe is called. Returns an unsubscribe function.
func (b *Bus) Subscribe(requestID string, fn Subscriber) func() {
	b.mu.Lock()
	b.subs[requestID] = append(b.subs[requestID], fn)
	idx := len(b.subs[requestID]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[requestID]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
}

// Publish delivers ev to every live subscriber of ev.RequestID.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := append([]Subscriber(nil), b.subs[ev.RequestID]...)
	b.mu.Unlock()

	for _, s := range subs {
		if s != nil {
			s(ev)
		}
	}
}

// Clear drops all subscribers for requestID, called once a request
// completes so the Bus doesn't grow unbounded.
func (b *Bus) Clear(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, requestID)
}
