package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

func threeStepPolicy() *models.EscalationPolicy {
	return &models.EscalationPolicy{
		ID: "policy-1",
		Steps: []models.EscalationStep{
			{ChannelIDs: []string{"ch-oncall"}, DelayMinutes: 0},
			{ChannelIDs: []string{"ch-team"}, DelayMinutes: 15},
			{ChannelIDs: []string{"ch-mgmt", "ch-pager"}, DelayMinutes: 30},
		},
	}
}

func TestPlanWalksStepsInOrder(t *testing.T) {
	policy := threeStepPolicy()

	plan, err := Plan(policy, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ch-oncall"}, plan.ChannelIDs)
	assert.True(t, plan.Continue)
	assert.Equal(t, 1, plan.NextStep)
	assert.Equal(t, 15*time.Minute, plan.NextDelay)

	plan, err = Plan(policy, 1, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ch-team"}, plan.ChannelIDs)
	assert.Equal(t, 2, plan.NextStep)
	assert.Equal(t, 30*time.Minute, plan.NextDelay)

	// last step of a non-repeating policy ends the chain
	plan, err = Plan(policy, 2, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ch-mgmt", "ch-pager"}, plan.ChannelIDs)
	assert.False(t, plan.Continue)
}

func TestPlanRepeatWrapsToFirstStep(t *testing.T) {
	policy := threeStepPolicy()
	policy.Repeat = true
	policy.RepeatAfterMinutes = 60
	policy.MaxRepeats = 3

	plan, err := Plan(policy, 2, 0)
	assert.NoError(t, err)
	assert.True(t, plan.Continue)
	assert.Equal(t, 0, plan.NextStep)
	assert.Equal(t, 1, plan.NextCycle)
	assert.Equal(t, time.Hour, plan.NextDelay)

	// cycle budget exhausted: the chain stops for good
	plan, err = Plan(policy, 2, 2)
	assert.NoError(t, err)
	assert.False(t, plan.Continue)
}

func TestPlanRepeatForeverWhenUnbounded(t *testing.T) {
	policy := threeStepPolicy()
	policy.Repeat = true
	policy.RepeatAfterMinutes = 60

	plan, err := Plan(policy, 2, 40)
	assert.NoError(t, err)
	assert.True(t, plan.Continue)
	assert.Equal(t, 41, plan.NextCycle)
}

func TestPlanRejectsStaleStepIndex(t *testing.T) {
	policy := threeStepPolicy()
	_, err := Plan(policy, 5, 0)
	assert.ErrorIs(t, err, models.ErrInvalid)
	_, err = Plan(policy, -1, 0)
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestFirstDelay(t *testing.T) {
	policy := threeStepPolicy()
	assert.Equal(t, time.Duration(0), FirstDelay(policy))

	policy.Steps[0].DelayMinutes = 5
	assert.Equal(t, 5*time.Minute, FirstDelay(policy))
}

func TestShouldContinue(t *testing.T) {
	assert.False(t, ShouldContinue(nil))
	assert.True(t, ShouldContinue(&models.Alert{State: models.AlertStateFiring}))
	assert.False(t, ShouldContinue(&models.Alert{State: models.AlertStateFiring, Acknowledged: true}))
	assert.False(t, ShouldContinue(&models.Alert{State: models.AlertStateResolved}))
	assert.False(t, ShouldContinue(&models.Alert{State: models.AlertStatePending}))
}
