package zlibrary

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// tickerCheckMultiplier is how many times to poll per refill period while
// waiting for a token.
const tickerCheckMultiplier = 10

// TokenBucket throttles outbound library calls. The remote service rate-limits
// aggressively, so every HTTP request drains a token; tokens refill at a fixed
// rate up to a burst capacity.
type TokenBucket struct {
	lastRefill   time.Time
	refillPeriod time.Duration
	capacity     int
	tokens       int
	refillRate   int
	mu           sync.Mutex
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(capacity, refillRate int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// Allow tries to consume a token, returning true on success.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is canceled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	if tb.Allow() {
		return nil
	}

	ticker := time.NewTicker(tb.refillPeriod / tickerCheckMultiplier)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for rate limit: %w", ctx.Err())
		case <-ticker.C:
			if tb.Allow() {
				return nil
			}
		}
	}
}

// refill adds tokens for every full refill period elapsed since the last
// refill. Caller must hold tb.mu.
func (tb *TokenBucket) refill() {
	now := time.Now()
	periods := int(now.Sub(tb.lastRefill) / tb.refillPeriod)
	if periods <= 0 {
		return
	}

	tb.tokens += periods * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
}
