package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many inbound frames one connection may submit
// within a sliding window. The gateway closes the session when the budget
// is exceeded, so a flooding client cannot starve the broadcast paths.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter falls back to the gateway defaults on invalid input so a
// misconfigured limit never disables throttling entirely.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow records a frame at "now" and reports whether it fits the budget.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stamps are appended in arrival order, so everything before the first
	// one inside the window can be cut in one slice.
	cut := now.Add(-r.window)
	keep := 0
	for keep < len(r.stamps) && !r.stamps[keep].After(cut) {
		keep++
	}
	r.stamps = r.stamps[keep:]

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
