package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from callers rotating tenant ids.
	maxTrackedKeys = 4096

	// staleAfter is how long an idle limiter is kept before pruning.
	staleAfter = 10 * time.Minute

	defaultRPM = 20
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket with bounded key tracking.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	enabled bool
	now     func() time.Time
}

// NewRateLimiter allows rpm requests per minute per key with the given burst.
// rpm == 0 uses the default of 20; rpm < 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	r := &RateLimiter{entries: make(map[string]*limiterEntry), now: time.Now}
	if rpm < 0 {
		return r
	}
	if rpm == 0 {
		rpm = defaultRPM
	}
	if burst <= 0 {
		burst = 1
	}
	r.enabled = true
	r.limit = rate.Limit(float64(rpm) / 60)
	r.burst = burst
	return r
}

func (r *RateLimiter) Enabled() bool { return r.enabled }

// Allow reports whether key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Prune stale entries when approaching the cap
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= staleAfter {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
