package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	fixed := time.Now()
	r := NewRateLimiter(RateLimitConfig{Window: time.Minute, Capacity: 3, Burst: 3})
	r.now = func() time.Time { return fixed }

	assert.True(t, r.Allow("robot-1"))
	assert.True(t, r.Allow("robot-1"))
	assert.True(t, r.Allow("robot-1"))
	assert.False(t, r.Allow("robot-1"), "fourth request within the window must be rejected")
}

func TestRateLimiterWindowSlidesAndFreesCapacity(t *testing.T) {
	fixed := time.Now()
	r := NewRateLimiter(RateLimitConfig{Window: time.Minute, Capacity: 2, Burst: 10})
	r.now = func() time.Time { return fixed }

	assert.True(t, r.Allow("robot-1"))
	assert.True(t, r.Allow("robot-1"))
	assert.False(t, r.Allow("robot-1"))

	r.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	assert.True(t, r.Allow("robot-1"), "after the window elapses capacity should free up")
}

func TestRateLimiterIsolatesIdentities(t *testing.T) {
	fixed := time.Now()
	r := NewRateLimiter(RateLimitConfig{Window: time.Minute, Capacity: 1, Burst: 5})
	r.now = func() time.Time { return fixed }

	assert.True(t, r.Allow("robot-1"))
	assert.False(t, r.Allow("robot-1"))
	assert.True(t, r.Allow("robot-2"), "a different identity must have its own budget")
}

func TestRateLimiterRemainingReflectsUsage(t *testing.T) {
	fixed := time.Now()
	r := NewRateLimiter(RateLimitConfig{Window: time.Minute, Capacity: 5, Burst: 5})
	r.now = func() time.Time { return fixed }

	assert.Equal(t, 5, r.Remaining("robot-1"))
	r.Allow("robot-1")
	assert.Equal(t, 4, r.Remaining("robot-1"))
}

func TestRateLimiterResetClearsHistory(t *testing.T) {
	fixed := time.Now()
	r := NewRateLimiter(RateLimitConfig{Window: time.Minute, Capacity: 1, Burst: 5})
	r.now = func() time.Time { return fixed }

	r.Allow("robot-1")
	assert.False(t, r.Allow("robot-1"))
	r.Reset("robot-1")
	assert.True(t, r.Allow("robot-1"))
}

func TestRateLimiterBurstGuardBlocksInstantFlood(t *testing.T) {
	fixed := time.Now()
	r := NewRateLimiter(RateLimitConfig{Window: time.Minute, Capacity: 100, Burst: 2})
	r.now = func() time.Time { return fixed }

	assert.True(t, r.Allow("robot-1"))
	assert.True(t, r.Allow("robot-1"))
	assert.False(t, r.Allow("robot-1"), "burst guard should cap instantaneous requests below capacity")
}
