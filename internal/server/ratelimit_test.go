package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_tokenBucket_burst(t *testing.T) {
	b := newTokenBucket(5, 5)
	now := Now()

	for i := 0; i < 5; i++ {
		assert.True(t, b.allow(now), "expected request %d within burst to be allowed", i+1)
	}
	assert.False(t, b.allow(now), "expected request beyond burst to be denied")
}

func Test_tokenBucket_refill(t *testing.T) {
	b := newTokenBucket(5, 5)
	now := Now()

	for i := 0; i < 5; i++ {
		b.allow(now)
	}
	assert.False(t, b.allow(now), "expected bucket to be empty")

	// 200ms at 5 tokens/sec refills one token
	now = now.Add(200 * time.Millisecond)
	assert.True(t, b.allow(now), "expected one token after refill interval")
	assert.False(t, b.allow(now), "expected bucket empty again")
}

func Test_tokenBucket_cap(t *testing.T) {
	b := newTokenBucket(5, 5)
	now := Now()

	b.allow(now)

	// a long idle period must not accumulate beyond capacity
	now = now.Add(time.Hour)
	for i := 0; i < 5; i++ {
		assert.True(t, b.allow(now), "expected request %d within capacity to be allowed", i+1)
	}
	assert.False(t, b.allow(now), "expected refill to be capped at capacity")
}
