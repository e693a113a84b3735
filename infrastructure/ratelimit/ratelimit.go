// Package ratelimit provides token-bucket rate limiting backed by
// golang.org/x/time/rate, with a combined per-second and per-minute
// budget so a caller configuring "100 requests/sec" doesn't also get an
// implicit free pass on sustained-over-a-minute abuse.
package ratelimit

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Config configures a RateLimiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns sensible defaults for a per-account limiter.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// RateLimiter enforces both a per-second and a per-minute token bucket.
type RateLimiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	perMinute *rate.Limiter
	config    Config
}

// New creates a RateLimiter from cfg.
func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}

	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*60), cfg.Burst*2),
		config:    cfg,
	}
}

// Allow reports whether a request may proceed right now.
func (r *RateLimiter) Allow() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiter.Allow() && r.perMinute.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.perMinute.Wait(ctx)
}

// Reset replaces both buckets with fresh ones at the configured rate.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)
	r.perMinute = rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond*60), r.config.Burst*2)
}

// PerAccountLimiter holds one RateLimiter per account key, created lazily
// on first use (spec §5: per-account request throttling so one noisy
// account cannot starve the orchestrator's worker pool for others).
type PerAccountLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	cfg      Config
}

// NewPerAccountLimiter creates an empty PerAccountLimiter using cfg for
// every newly seen account.
func NewPerAccountLimiter(cfg Config) *PerAccountLimiter {
	return &PerAccountLimiter{limiters: make(map[string]*RateLimiter), cfg: cfg}
}

// Allow reports whether account may proceed right now, creating its
// limiter on first use.
func (p *PerAccountLimiter) Allow(account string) bool {
	return p.limiterFor(account).Allow()
}

func (p *PerAccountLimiter) limiterFor(account string) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[account]
	if !ok {
		l = New(p.cfg)
		p.limiters[account] = l
	}
	return l
}

// RateLimitedClient wraps an http.Client so every outbound call waits for
// a token first.
type RateLimitedClient struct {
	client  *http.Client
	limiter *RateLimiter
}

// NewRateLimitedClient wraps client with a RateLimiter built from cfg.
func NewRateLimitedClient(client *http.Client, cfg Config) *RateLimitedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RateLimitedClient{client: client, limiter: New(cfg)}
}

// Do waits for a token and then performs req.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}
