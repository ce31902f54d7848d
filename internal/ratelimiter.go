package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by caller (client ip for auth).
// A non-positive limit disables it.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	if len(slice) == 0 && len(r.hits) > maxTrackedKeys {
		r.sweep(windowStart)
	}
	r.hits[key] = append(slice, now)
	return true
}

const maxTrackedKeys = 4096

// sweep forgets keys whose hits all fell out of the window.
func (r *RateLimiter) sweep(windowStart time.Time) {
	for key, hits := range r.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(windowStart) {
			delete(r.hits, key)
		}
	}
}
