package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

func firedAlert(ctx context.Context, t *testing.T, st store.Store, fingerprint string) *models.Alert {
	now := time.Now()
	alert := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      "rule-1",
		Fingerprint: fingerprint,
		State:       models.AlertStateFiring,
		StartedAt:   now,
		LastFiredAt: &now,
		CreatedAt:   now,
	}
	assert.NoError(t, st.CreateAlert(ctx, alert))
	return alert
}

func TestIncidentReuseAcrossAlerts(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewCorrelator(st)
	rule := testRule(0, 0)
	ctx := context.Background()

	a1 := firedAlert(ctx, t, st, "fp-1")
	inc1, err := c.OnAlertFired(ctx, rule, a1)
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusTriggered, inc1.Status)
	assert.Equal(t, rule.Name, inc1.Title)
	assert.Equal(t, inc1.ID, a1.IncidentID)

	// second alert for the same rule joins the open incident
	a2 := firedAlert(ctx, t, st, "fp-2")
	inc2, err := c.OnAlertFired(ctx, rule, a2)
	assert.NoError(t, err)
	assert.Equal(t, inc1.ID, inc2.ID)
	assert.Equal(t, inc1.ID, a2.IncidentID)

	got, err := st.GetIncident(ctx, inc1.ID)
	assert.NoError(t, err)
	assert.Len(t, got.Timeline, 2)
	assert.Equal(t, models.TimelineTriggered, got.Timeline[0].Type)
	assert.Equal(t, models.TimelineAlertFired, got.Timeline[1].Type)
}

func TestIncidentAutoResolvesWithLastAlert(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewCorrelator(st)
	rule := testRule(0, 0)
	ctx := context.Background()

	a1 := firedAlert(ctx, t, st, "fp-1")
	a2 := firedAlert(ctx, t, st, "fp-2")
	_, err := c.OnAlertFired(ctx, rule, a1)
	assert.NoError(t, err)
	_, err = c.OnAlertFired(ctx, rule, a2)
	assert.NoError(t, err)

	resolve := func(a *models.Alert) {
		now := time.Now()
		a.State = models.AlertStateResolved
		a.ResolvedAt = &now
		assert.NoError(t, st.UpdateAlert(ctx, a))
	}

	// one of two resolved: incident stays open
	resolve(a1)
	inc, err := c.OnAlertResolved(ctx, rule, a1)
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusTriggered, inc.Status)

	// last one resolved: incident closes
	resolve(a2)
	inc, err = c.OnAlertResolved(ctx, rule, a2)
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, inc.Status)
	assert.Equal(t, "system", inc.ResolvedBy)
	assert.NotNil(t, inc.ResolvedAt)
}

func TestPendingAlertDoesNotHoldIncidentOpen(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewCorrelator(st)
	rule := testRule(0, 0)
	ctx := context.Background()

	firing := firedAlert(ctx, t, st, "fp-firing")
	_, err := c.OnAlertFired(ctx, rule, firing)
	assert.NoError(t, err)

	// a second group's breach is still in its pending period
	pending := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		Fingerprint: "fp-pending",
		State:       models.AlertStatePending,
		StartedAt:   time.Now(),
		CreatedAt:   time.Now(),
	}
	assert.NoError(t, st.CreateAlert(ctx, pending))

	now := time.Now()
	firing.State = models.AlertStateResolved
	firing.ResolvedAt = &now
	assert.NoError(t, st.UpdateAlert(ctx, firing))

	// the pending alert never paged anyone, so the incident closes
	inc, err := c.OnAlertResolved(ctx, rule, firing)
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, inc.Status)
}

func TestAcknowledgePropagatesAndIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewCorrelator(st)
	rule := testRule(0, 0)
	ctx := context.Background()

	alert := firedAlert(ctx, t, st, "fp-1")
	inc, err := c.OnAlertFired(ctx, rule, alert)
	assert.NoError(t, err)

	acked, err := c.Acknowledge(ctx, inc.ID, "alice")
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusAcknowledged, acked.Status)
	assert.Equal(t, "alice", acked.AcknowledgedBy)

	got, err := st.GetAlert(ctx, alert.ID)
	assert.NoError(t, err)
	assert.True(t, got.Acknowledged)
	assert.Equal(t, "alice", got.AcknowledgedBy)

	// a second ack changes nothing
	again, err := c.Acknowledge(ctx, inc.ID, "bob")
	assert.NoError(t, err)
	assert.Equal(t, "alice", again.AcknowledgedBy)
	assert.Len(t, again.Timeline, len(acked.Timeline))
}

func TestManualResolve(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewCorrelator(st)
	rule := testRule(0, 0)
	ctx := context.Background()

	alert := firedAlert(ctx, t, st, "fp-1")
	inc, err := c.OnAlertFired(ctx, rule, alert)
	assert.NoError(t, err)

	resolved, err := c.Resolve(ctx, inc.ID, "alice")
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)

	_, err = c.Resolve(ctx, "missing", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
