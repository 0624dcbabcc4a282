package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig parameterizes the per-identity limiter: a sliding window
// of at most Capacity requests per Window, with Burst allowed through
// instantaneously via the underlying token-bucket guard.
type RateLimitConfig struct {
	Window   time.Duration
	Capacity int
	Burst    int
}

// DefaultRateLimitConfig mirrors the orchestrator's historical per-robot
// ingress defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Window: time.Minute, Capacity: 120, Burst: 20}
}

type identityLimiter struct {
	mu     sync.Mutex
	times  []time.Time // sliding-window timestamps, oldest first
	burst  *rate.Limiter
}

// RateLimiter enforces a sliding-window request budget per identity (robot
// ID, token, or any other caller key), with a token-bucket burst guard in
// front so a single instant can't exhaust the whole window's capacity.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu         sync.Mutex
	identities map[string]*identityLimiter
}

// NewRateLimiter builds a RateLimiter. A zero-value cfg.Capacity uses
// DefaultRateLimitConfig.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Capacity <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		cfg:        cfg,
		now:        time.Now,
		identities: make(map[string]*identityLimiter),
	}
}

// Allow reports whether identity may make one more request right now,
// recording the attempt if so.
func (r *RateLimiter) Allow(identity string) bool {
	r.mu.Lock()
	il, ok := r.identities[identity]
	if !ok {
		burstLimit := rate.Limit(float64(r.cfg.Burst) / r.cfg.Window.Seconds())
		il = &identityLimiter{burst: rate.NewLimiter(burstLimit, r.cfg.Burst)}
		r.identities[identity] = il
	}
	r.mu.Unlock()

	now := r.now()
	if !il.burst.AllowN(now, 1) {
		return false
	}

	il.mu.Lock()
	defer il.mu.Unlock()

	cutoff := now.Add(-r.cfg.Window)
	kept := il.times[:0]
	for _, t := range il.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	il.times = kept

	if len(il.times) >= r.cfg.Capacity {
		return false
	}
	il.times = append(il.times, now)
	return true
}

// Remaining reports how many requests identity may still make within the
// current window, without consuming one.
func (r *RateLimiter) Remaining(identity string) int {
	r.mu.Lock()
	il, ok := r.identities[identity]
	r.mu.Unlock()
	if !ok {
		return r.cfg.Capacity
	}

	now := r.now()
	cutoff := now.Add(-r.cfg.Window)
	il.mu.Lock()
	defer il.mu.Unlock()
	active := 0
	for _, t := range il.times {
		if t.After(cutoff) {
			active++
		}
	}
	remaining := r.cfg.Capacity - active
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears an identity's tracked request history and burst guard.
func (r *RateLimiter) Reset(identity string) {
	r.mu.Lock()
	delete(r.identities, identity)
	r.mu.Unlock()
}
