package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChannelRateLimit(t *testing.T) {
	counters := NewMemoryCounters()
	now := time.Now()
	counters.Now = func() time.Time { return now }

	limiter := NewRateLimiter(counters, Limits{
		PerChannel:       60,
		PerChannelWindow: 5 * time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		allowed, _, err := limiter.Allow(ctx, "ch-1", "rule-1", "proj-1")
		assert.NoError(t, err)
		assert.True(t, allowed, "attempt %d should pass", i+1)
	}

	// the 61st in the same window is rejected
	allowed, reason, err := limiter.Allow(ctx, "ch-1", "rule-1", "proj-1")
	assert.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "channel rate limit exceeded", reason)

	// a different channel has its own budget
	allowed, _, err = limiter.Allow(ctx, "ch-2", "rule-1", "proj-1")
	assert.NoError(t, err)
	assert.True(t, allowed)

	// after the window expires the counter starts over
	now = now.Add(5*time.Minute + time.Second)
	allowed, _, err = limiter.Allow(ctx, "ch-1", "rule-1", "proj-1")
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestRuleAndProjectLimits(t *testing.T) {
	counters := NewMemoryCounters()
	limiter := NewRateLimiter(counters, Limits{
		PerRule:          10,
		PerRuleWindow:    time.Hour,
		PerProject:       500,
		PerProjectWindow: time.Hour,
	})
	ctx := context.Background()

	// spread across channels, the per-rule cap still binds
	for i := 0; i < 10; i++ {
		allowed, _, err := limiter.Allow(ctx, "ch-1", "rule-1", "proj-1")
		assert.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, reason, err := limiter.Allow(ctx, "ch-2", "rule-1", "proj-1")
	assert.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "rule rate limit exceeded", reason)

	// another rule in the same project still goes through
	allowed, _, err = limiter.Allow(ctx, "ch-1", "rule-2", "proj-1")
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestZeroLimitIsDisabled(t *testing.T) {
	limiter := NewRateLimiter(NewMemoryCounters(), Limits{})
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		allowed, _, err := limiter.Allow(ctx, "ch-1", "rule-1", "proj-1")
		assert.NoError(t, err)
		assert.True(t, allowed)
	}
}
