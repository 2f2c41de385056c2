package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(time.Minute, 3)
	for i := range 3 {
		assert.True(t, rl.Allow(), "event %d within limit", i)
	}
	assert.False(t, rl.Allow(), "limit exceeded")
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(30*time.Millisecond, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.Allow(), "old events fall out of the window")
}

func TestRateLimiterReset(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(time.Minute, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.Reset()
	assert.True(t, rl.Allow())
}
