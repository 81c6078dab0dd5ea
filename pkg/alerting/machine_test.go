package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

func testRule(pendingSecs, resolveSecs int) *models.Rule {
	return &models.Rule{
		ID:                   "rule-1",
		ProjectID:            "proj-1",
		Name:                 "High CPU",
		Severity:             models.SeverityCritical,
		PendingPeriodSeconds: pendingSecs,
		ResolvePeriodSeconds: resolveSecs,
	}
}

func firingResult() models.EvaluationResult {
	return models.EvaluationResult{
		State:       models.EvalStateFiring,
		Value:       95,
		Threshold:   80,
		Fingerprint: "fp-1",
	}
}

func okResult() models.EvaluationResult {
	return models.EvaluationResult{
		State:       models.EvalStateOK,
		Value:       40,
		Threshold:   80,
		Fingerprint: "fp-1",
	}
}

func newTestMachine(st store.Store) (*Machine, *time.Time) {
	m := NewMachine(st)
	now := time.Now()
	m.Now = func() time.Time { return now }
	return m, &now
}

func TestImmediateFireWithoutPendingPeriod(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestMachine(st)

	out, err := m.Apply(context.Background(), testRule(0, 0), firingResult())
	assert.NoError(t, err)
	assert.True(t, out.Fired)
	assert.Equal(t, models.AlertStateFiring, out.Alert.State)
}

func TestPendingHysteresis(t *testing.T) {
	st := store.NewMemoryStore()
	m, now := newTestMachine(st)
	rule := testRule(300, 0)
	ctx := context.Background()

	// first breach opens a pending alert, no fire yet
	out, err := m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.False(t, out.Fired)
	assert.Equal(t, models.AlertStatePending, out.Alert.State)

	// 120s in: still pending
	*now = now.Add(120 * time.Second)
	out, err = m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.False(t, out.Fired)
	assert.Equal(t, models.AlertStatePending, out.Alert.State)

	// past the 300s pending period: fires exactly once
	*now = now.Add(200 * time.Second)
	out, err = m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.True(t, out.Fired)
	assert.Equal(t, models.AlertStateFiring, out.Alert.State)

	out, err = m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.False(t, out.Fired)
	assert.Equal(t, models.AlertStateFiring, out.Alert.State)
}

func TestPendingAlertDiscardedOnRecovery(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestMachine(st)
	rule := testRule(300, 0)
	ctx := context.Background()

	out, err := m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	alertID := out.Alert.ID

	out, err = m.Apply(ctx, rule, okResult())
	assert.NoError(t, err)
	assert.Nil(t, out)

	_, err = st.GetAlert(ctx, alertID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveHysteresis(t *testing.T) {
	st := store.NewMemoryStore()
	m, now := newTestMachine(st)
	rule := testRule(0, 600)
	ctx := context.Background()

	out, err := m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.True(t, out.Fired)

	// ok right away: last fire is inside the resolve window, stays firing
	*now = now.Add(time.Minute)
	out, err = m.Apply(ctx, rule, okResult())
	assert.NoError(t, err)
	assert.False(t, out.Resolved)
	assert.Equal(t, models.AlertStateFiring, out.Alert.State)

	// sustained ok past the window, but a firing observation in history
	// blocks the resolve
	*now = now.Add(11 * time.Minute)
	st.AppendHistory(ctx, &models.AlertHistoryEntry{
		RuleID: "rule-1", Fingerprint: "fp-1",
		State: models.EvalStateFiring, RecordedAt: now.Add(-2 * time.Minute),
	})
	out, err = m.Apply(ctx, rule, okResult())
	assert.NoError(t, err)
	assert.False(t, out.Resolved)

	// clean window: resolves
	*now = now.Add(11 * time.Minute)
	out, err = m.Apply(ctx, rule, okResult())
	assert.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, models.AlertStateResolved, out.Alert.State)
	assert.NotNil(t, out.Alert.ResolvedAt)
}

func TestRefireAfterResolveStartsFresh(t *testing.T) {
	st := store.NewMemoryStore()
	m, now := newTestMachine(st)
	rule := testRule(300, 0)
	ctx := context.Background()

	// fire and resolve a first instance
	out, err := m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	*now = now.Add(400 * time.Second)
	out, err = m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.True(t, out.Fired)
	firstID := out.Alert.ID

	out.Alert.Acknowledged = true
	assert.NoError(t, st.UpdateAlert(ctx, out.Alert))

	out, err = m.Apply(ctx, rule, okResult())
	assert.NoError(t, err)
	assert.True(t, out.Resolved)

	// the next breach opens a brand new pending alert with no ack
	*now = now.Add(time.Minute)
	out, err = m.Apply(ctx, rule, firingResult())
	assert.NoError(t, err)
	assert.NotEqual(t, firstID, out.Alert.ID)
	assert.Equal(t, models.AlertStatePending, out.Alert.State)
	assert.False(t, out.Alert.Acknowledged)
}

func TestOKWithNoTrackedAlertIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	m, _ := newTestMachine(st)

	out, err := m.Apply(context.Background(), testRule(0, 0), okResult())
	assert.NoError(t, err)
	assert.Nil(t, out)
}
