// ratelimit.go implements leaky-bucket rate limiting for the broker API.
//
// The broker enforces 50 requests per second on the trading session. The
// limiter tracks request timestamps over a trailing window; Acquire blocks
// until a slot inside the window frees up or the context is cancelled.
package broker

import (
	"context"
	"sync"
	"time"
)

// Default request budget for the trading session.
const (
	defaultRateLimit  = 50
	defaultRateWindow = time.Second
)

// RateLimiter is a leaky-bucket limiter over a trailing time window.
type RateLimiter struct {
	mu     sync.Mutex
	rate   int
	window time.Duration
	stamps []time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per window.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	if rate <= 0 {
		rate = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{rate: rate, window: window}
}

// Acquire blocks until a request slot is free or ctx is cancelled.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.evict(now)

		if len(rl.stamps) < rl.rate {
			rl.stamps = append(rl.stamps, now)
			rl.mu.Unlock()
			return nil
		}

		// Oldest stamp leaving the window frees the next slot.
		wait := rl.stamps[0].Add(rl.window).Sub(now)
		rl.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Usage returns the number of requests inside the current window.
func (rl *RateLimiter) Usage() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evict(time.Now())
	return len(rl.stamps)
}

func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.stamps) && rl.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		rl.stamps = append(rl.stamps[:0], rl.stamps[i:]...)
	}
}
