package server

import (
	"sync"
	"time"
)

// rateLimiter is a rolling-window counter of incoming messages.
type rateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   []time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{window: window, limit: limit}
}

// Allow records one message and reports whether it is within the limit.
func (r *rateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	keep := r.hits[:0]
	for _, t := range r.hits {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	r.hits = keep

	if r.limit > 0 && len(r.hits) >= r.limit {
		return false
	}
	r.hits = append(r.hits, now)
	return true
}
