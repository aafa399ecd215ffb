// Package stream feeds camera frames and audio chunks to the backend
// through two independent rate-limited upload pipelines.
package stream

import (
	"sync"
	"time"
)

// RateLimiter admits at most one item per interval. Only admitted items
// that were actually queued move the window forward.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter creates a limiter. A nil now uses time.Now.
func NewRateLimiter(interval time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{interval: interval, now: now}
}

// Admit runs enqueue if the interval has elapsed since the last recorded
// item and records the time only when enqueue succeeds. It returns false
// without calling enqueue when the item arrives too early.
func (r *RateLimiter) Admit(enqueue func() error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return false, nil
	}
	if err := enqueue(); err != nil {
		return true, err
	}
	r.last = now
	return true, nil
}

// Reset forgets the last item so the next one is admitted immediately.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = time.Time{}
}

// SetInterval changes the interval for subsequent items.
func (r *RateLimiter) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = d
}

// Interval returns the current interval.
func (r *RateLimiter) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}
