// Package ratelimit implements the byte-budget token bucket the transfer
// engines use for bandwidth throttling.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a rate-limited byte budget. Consume returns how long the
// caller must sleep before the transfer it is about to account for would
// keep long-term throughput at or below rate.
//
// A rate of 0 disables throttling: Consume always returns 0.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // bytes/sec; 0 disables throttling
	tokens     float64
	lastRefill time.Time
}

// New creates a TokenBucket at the given rate (bytes/sec). A rate of 0
// disables throttling.
func New(rate int64) *TokenBucket {
	return &TokenBucket{
		rate:       float64(rate),
		tokens:     float64(rate),
		lastRefill: time.Now(),
	}
}

// SetRate updates the bucket's rate. A rate of 0 disables throttling.
func (b *TokenBucket) SetRate(rate int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = float64(rate)
}

// Consume debits n bytes from the bucket and returns how long the caller
// should sleep before proceeding.
func (b *TokenBucket) Consume(n int64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rate == 0 {
		return 0
	}

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	burst := b.rate // one second's worth
	b.tokens += elapsed * b.rate
	if b.tokens > burst {
		b.tokens = burst
	}

	b.tokens -= float64(n)
	if b.tokens < 0 {
		wait := -b.tokens / b.rate
		b.tokens = 0
		return time.Duration(wait * float64(time.Second))
	}
	return 0
}
