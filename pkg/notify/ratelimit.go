package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Limits caps notification volume per channel, rule and project. Zero
// values disable the corresponding cap.
type Limits struct {
	PerChannel       int64
	PerChannelWindow time.Duration
	PerRule          int64
	PerRuleWindow    time.Duration
	PerProject       int64
	PerProjectWindow time.Duration
}

// DefaultLimits returns the stock caps: 60 per channel per 5 minutes,
// 10 per rule per hour, 500 per project per hour.
func DefaultLimits() Limits {
	return Limits{
		PerChannel:       60,
		PerChannelWindow: 5 * time.Minute,
		PerRule:          10,
		PerRuleWindow:    time.Hour,
		PerProject:       500,
		PerProjectWindow: time.Hour,
	}
}

// RateLimiter enforces Limits on top of a CounterStore
type RateLimiter struct {
	counters CounterStore
	limits   Limits
}

func NewRateLimiter(counters CounterStore, limits Limits) *RateLimiter {
	return &RateLimiter{counters: counters, limits: limits}
}

// Allow consumes one notification slot across all three scopes and
// reports the first exceeded cap. All scopes are incremented up front,
// so a rejected notification still counts toward its windows. A broken
// counter store fails open: dropping pages is worse than sending a few
// extra.
func (l *RateLimiter) Allow(ctx context.Context, channelID, ruleID, projectID string) (bool, string, error) {
	type scope struct {
		key    string
		limit  int64
		window time.Duration
		reason string
	}
	scopes := []scope{
		{fmt.Sprintf("ratelimit:channel:%s", channelID), l.limits.PerChannel, l.limits.PerChannelWindow, "channel rate limit exceeded"},
		{fmt.Sprintf("ratelimit:rule:%s", ruleID), l.limits.PerRule, l.limits.PerRuleWindow, "rule rate limit exceeded"},
		{fmt.Sprintf("ratelimit:project:%s", projectID), l.limits.PerProject, l.limits.PerProjectWindow, "project rate limit exceeded"},
	}

	exceeded := ""
	for _, s := range scopes {
		if s.limit <= 0 {
			continue
		}
		count, err := l.counters.IncrementWithExpiry(ctx, s.key, s.window)
		if err != nil {
			logrus.Warnf("Rate limiter unavailable for %s, allowing notification: %v", s.key, err)
			continue
		}
		if count > s.limit && exceeded == "" {
			exceeded = s.reason
		}
	}
	if exceeded != "" {
		return false, exceeded, nil
	}
	return true, "", nil
}
