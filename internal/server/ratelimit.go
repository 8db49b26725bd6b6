package server

import "time"

// tokenBucket is a per-session rate limiter. It is only ever touched
// from the owning room's goroutine, so it needs no locking.
type tokenBucket struct {
	capacity float64
	tokens   float64
	refill   float64 // tokens per second
	last     time.Time
}

func newTokenBucket(capacity, refillPerSecond float64) *tokenBucket {
	return &tokenBucket{
		capacity: capacity,
		tokens:   capacity,
		refill:   refillPerSecond,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	if !b.last.IsZero() {
		b.tokens += now.Sub(b.last).Seconds() * b.refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}

	b.tokens--
	return true
}
