package ratelimit

import (
	"sync"
	"time"
)

// nanosPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so a
// fill rate of X tokens/sec adds exactly X nano-tokens per elapsed nanosecond
// without float rounding.
const nanosPerToken = int64(time.Second)

// TokenBucket is a deterministic token bucket refilled at an integer rate
// (tokens/sec) from a Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if tokensPerSecond < 0 {
		tokensPerSecond = 0
	}
	capacity := capacityTokens * nanosPerToken
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      tokensPerSecond,
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow consumes n tokens if available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := n * nanosPerToken

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	if elapsed <= 0 || b.rate <= 0 || b.available >= b.capacity {
		// Also covers clocks that step backwards: move the reference point
		// without refilling.
		return
	}

	// elapsed*rate overflows int64 once elapsed exceeds the time needed to
	// fill the bucket many times over; anything that long has certainly
	// refilled it completely.
	needed := b.capacity - b.available
	if elapsed.Nanoseconds() >= needed/b.rate+1 {
		b.available = b.capacity
		return
	}
	b.available += elapsed.Nanoseconds() * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}
