// ABOUTME: Rolling-window rate limiter for login attempts
// ABOUTME: Counts attempts per client identity, independent of outcome

package auth

import (
	"sync"
	"time"
)

// Rate limit defaults: 5 attempts per 60 seconds per identity.
const (
	DefaultMaxAttempts   = 5
	DefaultAttemptWindow = time.Minute
)

// attemptWindow tracks login attempts for one identity within the current
// window. Reset lazily when the window elapses.
type attemptWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter bounds login attempts per client identity within a rolling
// time window. Counters are purely in-memory; Prune drops stale entries.
type RateLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	attempts map[string]*attemptWindow

	now func() time.Time // injectable clock for tests
}

// NewRateLimiter creates a rate limiter allowing max attempts per window.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	return &RateLimiter{
		max:      max,
		window:   window,
		attempts: make(map[string]*attemptWindow),
		now:      time.Now,
	}
}

// Allow records one attempt for identity and reports whether it is within
// budget. Every call counts exactly once, success and failure alike, so the
// caller must invoke it before any secret comparison and never again for
// the same request.
func (r *RateLimiter) Allow(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.attempts[identity]
	if w == nil || now.After(w.resetAt) {
		w = &attemptWindow{resetAt: now.Add(r.window)}
		r.attempts[identity] = w
	}

	w.count++
	return w.count <= r.max
}

// RetryAfter returns how long identity must wait before its window resets.
// Zero means the identity is not currently limited.
func (r *RateLimiter) RetryAfter(identity string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.attempts[identity]
	if w == nil || w.count <= r.max {
		return 0
	}
	remaining := w.resetAt.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune removes counters whose window has elapsed, bounding memory growth
// from one-off identities. Safe to call from a periodic sweep.
func (r *RateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	pruned := 0
	for identity, w := range r.attempts {
		if now.After(w.resetAt) {
			delete(r.attempts, identity)
			pruned++
		}
	}
	return pruned
}
