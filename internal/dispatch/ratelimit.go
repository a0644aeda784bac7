package dispatch

import (
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window limiter per sender key: a bucket is replaced
// once its window has elapsed, so bursts at window boundaries are possible.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

// Allow records one call for key and reports whether it fits in the budget.
// A limit <= 0 disables limiting.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		rl.buckets[key] = &bucket{count: 1, windowStart: now}
		return true
	}
	b.count++
	return b.count <= limit
}

// Cleanup drops buckets whose window has elapsed. Call periodically to bound memory.
func (rl *RateLimiter) Cleanup(window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.windowStart) >= window {
			delete(rl.buckets, key)
		}
	}
}
