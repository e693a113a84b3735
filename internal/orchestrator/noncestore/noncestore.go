// Package noncestore mirrors the Orchestrator's in-process nonce
// high-water marks and confirmation-preference updates through Redis, so
// multiple walletd host processes behind a load balancer see the same
// view of an account's nonce sequence (spec §4.4: the nonce table and
// preference mirror must agree across wallet instances, not just within
// one process's internal/orchestrator/nonce.Table).
package noncestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// client is the subset of *redis.Client this package depends on, narrowed
// to plain Go types so tests can substitute a fake without a live server.
type client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// redisAdapter wraps *redis.Client to satisfy client.
type redisAdapter struct {
	rdb *redis.Client
}

func (a *redisAdapter) Get(ctx context.Context, key string) (string, error) {
	v, err := a.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", errNotFound
	}
	return v, err
}

func (a *redisAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

func (a *redisAdapter) Close() error { return a.rdb.Close() }

var errNotFound = fmt.Errorf("noncestore: key not found")

// ttl bounds how long a mirrored high-water mark lives before a stale
// instance falls back to the chain's own view rather than trusting a
// potentially very old cached value forever.
const ttl = 24 * time.Hour

// Mirror publishes and fetches per-access-key nonce high-water marks
// across host processes via Redis.
type Mirror struct {
	c client
}

// New connects to addr and returns a ready Mirror.
func New(addr, password string, db int) *Mirror {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Mirror{c: &redisAdapter{rdb: rdb}}
}

// NewWithClient builds a Mirror directly atop an already-configured
// *redis.Client, for callers that share one client across several
// ambient concerns (nonce mirroring, preference mirroring, caching).
func NewWithClient(rdb *redis.Client) *Mirror {
	return &Mirror{c: &redisAdapter{rdb: rdb}}
}

func nonceKey(account, publicKey string) string {
	return "w3a:nonce:" + account + ":" + publicKey
}

func preferenceKey(account string) string {
	return "w3a:prefs:" + account
}

// PublishHighWater stores account/publicKey's current high-water mark so
// another instance's UpdateNonceFromBlockchain-equivalent read sees it.
func (m *Mirror) PublishHighWater(ctx context.Context, account, publicKey string, highWater uint64) error {
	if err := m.c.Set(ctx, nonceKey(account, publicKey), strconv.FormatUint(highWater, 10), ttl); err != nil {
		return errors.RelayUnavailable("noncestore.publish_high_water", err)
	}
	return nil
}

// FetchHighWater returns the last high-water mark another instance
// published for (account, publicKey), or ok=false if none is cached.
func (m *Mirror) FetchHighWater(ctx context.Context, account, publicKey string) (value uint64, ok bool, err error) {
	raw, err := m.c.Get(ctx, nonceKey(account, publicKey))
	if err == errNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.RelayUnavailable("noncestore.fetch_high_water", err)
	}
	parsed, parseErr := strconv.ParseUint(raw, 10, 64)
	if parseErr != nil {
		return 0, false, errors.InternalInvariant("noncestore cached high-water mark", parseErr)
	}
	return parsed, true, nil
}

// PublishPreferenceDigest mirrors a lightweight fingerprint of an
// account's current confirmation preferences (not the full struct, to
// keep this package independent of internal/confirmation's schema) so a
// peer instance can detect a stale local cache and re-fetch from
// internal/store.
func (m *Mirror) PublishPreferenceDigest(ctx context.Context, account, digest string) error {
	if err := m.c.Set(ctx, preferenceKey(account), digest, ttl); err != nil {
		return errors.RelayUnavailable("noncestore.publish_preference_digest", err)
	}
	return nil
}

// FetchPreferenceDigest returns the last digest published for account, or
// ok=false if none is cached.
func (m *Mirror) FetchPreferenceDigest(ctx context.Context, account string) (digest string, ok bool, err error) {
	raw, err := m.c.Get(ctx, preferenceKey(account))
	if err == errNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.RelayUnavailable("noncestore.fetch_preference_digest", err)
	}
	return raw, true, nil
}

// Close releases the underlying Redis connection.
func (m *Mirror) Close() error {
	return m.c.Close()
}
