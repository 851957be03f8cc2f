package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	rl := newIPRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("1.2.3.4"), "request %d should be within burst", i)
	}
	assert.False(t, rl.allow("1.2.3.4"), "request beyond burst should be rejected")
}

func TestIPRateLimiter_PerKeyIsolation(t *testing.T) {
	rl := newIPRateLimiter(1, 1)

	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	// A different key gets its own bucket.
	assert.True(t, rl.allow("5.6.7.8"))
}
