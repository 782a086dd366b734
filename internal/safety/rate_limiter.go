package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting
type RateLimiter struct {
	capacity   float64    // Maximum number of tokens
	tokens     float64    // Current number of tokens
	refillRate float64    // Tokens added per second
	lastRefill time.Time  // Last time tokens were added
	mutex      sync.Mutex // Protects token count
	name       string     // Name for logging/identification
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter starting with a full bucket.
// A non-positive refillRate disables limiting.
func NewRateLimiter(name string, capacity int, refillRate float64) *RateLimiter {
	return newRateLimiter(name, capacity, refillRate, time.Now)
}

func newRateLimiter(name string, capacity int, refillRate float64, now func() time.Time) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		name:       name,
		now:        now,
	}
}

// Allow checks if an operation is allowed under the rate limit
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN checks if N operations are allowed under the rate limit
func (rl *RateLimiter) AllowN(n int) bool {
	if rl == nil || rl.refillRate <= 0 {
		return true
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}
	return false
}

// Wait waits until an operation is allowed
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN waits until N operations are allowed or ctx ends
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rl.AllowN(n) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.calculateWaitTime(n)):
		}
	}
}

// refillTokens adds tokens for the elapsed time. Caller holds the mutex.
func (rl *RateLimiter) refillTokens() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

// calculateWaitTime calculates how long to wait for N tokens
func (rl *RateLimiter) calculateWaitTime(n int) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	missing := float64(n) - rl.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing/rl.refillRate*float64(time.Second)) + time.Millisecond
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	Name       string
	Capacity   int
	Tokens     int
	RefillRate float64
	LastRefill time.Time
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	return RateLimiterStats{
		Name:       rl.name,
		Capacity:   int(rl.capacity),
		Tokens:     int(rl.tokens),
		RefillRate: rl.refillRate,
		LastRefill: rl.lastRefill,
	}
}
