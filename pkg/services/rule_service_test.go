package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// fakeScheduler records schedule calls
type fakeScheduler struct {
	scheduled   []string
	unscheduled []string
}

func (f *fakeScheduler) ScheduleRule(rule *models.Rule) error {
	f.scheduled = append(f.scheduled, rule.ID)
	return nil
}

func (f *fakeScheduler) UnscheduleRule(ruleID string) {
	f.unscheduled = append(f.unscheduled, ruleID)
}

func validCreateRequest() *models.CreateRuleRequest {
	return &models.CreateRuleRequest{
		ProjectID: "proj-1",
		Name:      "High CPU",
		Backend:   "static",
		Severity:  models.SeverityWarning,
		Spec: models.RuleSpec{
			Signal: "cpu",
			Type:   models.RuleTypeThreshold,
			Threshold: &models.ThresholdParams{
				Operator:      models.OperatorGT,
				Threshold:     75,
				Aggregation:   models.AggregationAvg,
				WindowSeconds: 300,
			},
		},
		EvaluationIntervalSeconds: 60,
	}
}

func TestCreateRuleSchedulesEvaluation(t *testing.T) {
	st := store.NewMemoryStore()
	sched := &fakeScheduler{}
	svc := NewRuleService(st, sched)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, validCreateRequest())
	assert.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.Enabled)
	assert.Equal(t, []string{rule.ID}, sched.scheduled)

	stored, err := st.GetRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Equal(t, "High CPU", stored.Name)
}

func TestCreateRuleRejectsMissingReferences(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewRuleService(st, nil)
	ctx := context.Background()

	req := validCreateRequest()
	req.ChannelIDs = []string{"no-such-channel"}
	_, err := svc.CreateRule(ctx, req)
	assert.ErrorIs(t, err, models.ErrInvalid)

	req = validCreateRequest()
	req.EscalationPolicyID = "no-such-policy"
	_, err = svc.CreateRule(ctx, req)
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestUpdateRuleReschedules(t *testing.T) {
	st := store.NewMemoryStore()
	sched := &fakeScheduler{}
	svc := NewRuleService(st, sched)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, validCreateRequest())
	assert.NoError(t, err)

	interval := 30
	updated, err := svc.UpdateRule(ctx, rule.ID, &models.UpdateRuleRequest{
		EvaluationIntervalSeconds: &interval,
	})
	assert.NoError(t, err)
	assert.Equal(t, 30, updated.EvaluationIntervalSeconds)
	assert.Equal(t, []string{rule.ID}, sched.unscheduled)
	assert.Equal(t, []string{rule.ID, rule.ID}, sched.scheduled)

	// disabling unschedules without rescheduling
	disabled := false
	_, err = svc.UpdateRule(ctx, rule.ID, &models.UpdateRuleRequest{Enabled: &disabled})
	assert.NoError(t, err)
	assert.Equal(t, []string{rule.ID, rule.ID}, sched.unscheduled)
	assert.Equal(t, []string{rule.ID, rule.ID}, sched.scheduled)
}

func TestDeleteRuleUnschedules(t *testing.T) {
	st := store.NewMemoryStore()
	sched := &fakeScheduler{}
	svc := NewRuleService(st, sched)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, validCreateRequest())
	assert.NoError(t, err)

	assert.NoError(t, svc.DeleteRule(ctx, rule.ID))
	assert.Equal(t, []string{rule.ID}, sched.unscheduled)
	_, err = st.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMuteRuleBoundedAndUnmute(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewRuleService(st, nil)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, validCreateRequest())
	assert.NoError(t, err)

	muted, err := svc.MuteRule(ctx, rule.ID, &models.MuteRuleRequest{
		DurationMinutes: 30,
		Reason:          "deploy window",
	})
	assert.NoError(t, err)
	assert.True(t, muted.Muted)
	assert.NotNil(t, muted.MutedUntil)
	assert.True(t, muted.MutedAt(time.Now()))
	assert.False(t, muted.MutedAt(time.Now().Add(time.Hour)))

	unmuted, err := svc.UnmuteRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.False(t, unmuted.Muted)
	assert.Nil(t, unmuted.MutedUntil)
}

func TestChannelServiceLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewChannelService(st, nil)
	ctx := context.Background()

	created, err := svc.CreateChannel(ctx, &models.NotificationChannel{
		ProjectID: "proj-1",
		Name:      "Ops Slack",
		Type:      models.ChannelTypeSlack,
		Config:    map[string]string{"url": "https://hooks.slack.example/T0"},
	})
	assert.NoError(t, err)
	assert.True(t, created.Enabled)

	_, err = svc.CreateChannel(ctx, &models.NotificationChannel{
		ProjectID: "proj-1",
		Name:      "Bad",
		Type:      "carrier-pigeon",
	})
	assert.ErrorIs(t, err, models.ErrInvalid)

	created.Enabled = false
	updated, err := svc.UpdateChannel(ctx, created.ID, created)
	assert.NoError(t, err)
	assert.False(t, updated.Enabled)

	assert.NoError(t, svc.DeleteChannel(ctx, created.ID))
}

func TestPolicyServiceValidatesStepChannels(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewPolicyService(st)
	ctx := context.Background()

	channel := &models.NotificationChannel{
		ID:        uuid.New().String(),
		ProjectID: "proj-1",
		Name:      "Pager",
		Type:      models.ChannelTypeWebhook,
		Enabled:   true,
	}
	assert.NoError(t, st.CreateChannel(ctx, channel))

	_, err := svc.CreatePolicy(ctx, &models.EscalationPolicy{
		ProjectID: "proj-1",
		Name:      "Broken",
		Steps:     []models.EscalationStep{{ChannelIDs: []string{"missing"}}},
	})
	assert.ErrorIs(t, err, models.ErrInvalid)

	policy, err := svc.CreatePolicy(ctx, &models.EscalationPolicy{
		ProjectID: "proj-1",
		Name:      "Page ops",
		Steps:     []models.EscalationStep{{ChannelIDs: []string{channel.ID}, DelayMinutes: 5}},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, policy.ID)
}
