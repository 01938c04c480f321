// Package ratelimit provides the token bucket used to pace half-open
// recovery probes.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucket is a continuously refilled token bucket. Consuming takes one
// token and never blocks; an empty bucket denies with no side effect.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int
	refill   float64
	limiter  *rate.Limiter
}

// New creates a bucket that starts full at capacity and refills at
// refillPerSecond tokens per second.
func New(capacity int, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		refill:   refillPerSecond,
		limiter:  rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}
}

// TryConsume takes one token if available. Denial has no side effect.
func (tb *TokenBucket) TryConsume() bool {
	tb.mu.Lock()
	lim := tb.limiter
	tb.mu.Unlock()
	return lim.Allow()
}

// Reset refills the bucket to full capacity. Invoked on every entry into
// half-open so each recovery cycle starts with a fresh probe budget.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(rate.Limit(tb.refill), tb.capacity)
}

// Available returns the current token count. Observability only; the value
// may be stale by the time the caller acts on it.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	lim := tb.limiter
	tb.mu.Unlock()
	return lim.Tokens()
}

// Capacity returns the configured bucket capacity.
func (tb *TokenBucket) Capacity() int {
	return tb.capacity
}
