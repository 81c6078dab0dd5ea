package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/alerting"
	"github.com/brainz-lab/signal-sub000/pkg/datasource"
	"github.com/brainz-lab/signal-sub000/pkg/evaluator"
	"github.com/brainz-lab/signal-sub000/pkg/maintenance"
	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/notify"
	"github.com/brainz-lab/signal-sub000/pkg/queue"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// recordingTransport counts deliveries without talking to anything
type recordingTransport struct {
	mu   sync.Mutex
	sent []*notify.Message
}

func (r *recordingTransport) Type() models.ChannelType { return models.ChannelTypeWebhook }

func (r *recordingTransport) Send(ctx context.Context, channel *models.NotificationChannel, secrets map[string]string, msg *notify.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return "ok", nil
}

type pipelineFixture struct {
	store     *store.MemoryStore
	source    *datasource.StaticSource
	transport *recordingTransport
	queue     *queue.Queue
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	st := store.NewMemoryStore()
	source := datasource.NewStaticSource()
	registry := datasource.NewRegistry()
	registry.Register("static", source)

	transport := &recordingTransport{}
	dispatcher := notify.NewDispatcher(
		st,
		notify.NewTransports(transport),
		notify.NewStaticSecrets(nil),
		notify.NewRateLimiter(notify.NewMemoryCounters(), notify.DefaultLimits()),
		maintenance.NewGate(st),
	)

	q := queue.New(2)
	p := NewPipeline(st, evaluator.New(registry), alerting.NewMachine(st), alerting.NewCorrelator(st), dispatcher, q)
	p.RegisterTasks(q)

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Stop()
	})
	return &pipelineFixture{store: st, source: source, transport: transport, queue: q, pipeline: p}
}

func (f *pipelineFixture) addChannel(t *testing.T) *models.NotificationChannel {
	channel := &models.NotificationChannel{
		ID:        uuid.New().String(),
		ProjectID: "proj-1",
		Name:      "Ops webhook",
		Type:      models.ChannelTypeWebhook,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	assert.NoError(t, f.store.CreateChannel(context.Background(), channel))
	return channel
}

func (f *pipelineFixture) addRule(t *testing.T, channelIDs []string) *models.Rule {
	rule := &models.Rule{
		ID:        uuid.New().String(),
		ProjectID: "proj-1",
		Name:      "High CPU",
		Backend:   "static",
		Severity:  models.SeverityCritical,
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
		ChannelIDs: channelIDs,
		Enabled:    true,
		CreatedAt:  time.Now(),
	}
	assert.NoError(t, f.store.CreateRule(context.Background(), rule))
	return rule
}

func (f *pipelineFixture) breach() {
	f.source.Add("cpu", datasource.LabeledPoint{Timestamp: time.Now(), Value: 95})
}

func sentNotifications(t *testing.T, st *store.MemoryStore, alertID string) []*models.Notification {
	rows, err := st.ListNotificationsByAlert(context.Background(), alertID)
	assert.NoError(t, err)
	var sent []*models.Notification
	for _, row := range rows {
		if row.Status == models.NotificationStatusSent {
			sent = append(sent, row)
		}
	}
	return sent
}

func TestEvaluateRuleFiresCorrelatesAndNotifies(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	channel := f.addChannel(t)
	rule := f.addRule(t, []string{channel.ID})
	f.breach()

	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))

	open, err := f.store.ListOpenAlertsByRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Len(t, open, 1)
	alert := open[0]
	assert.Equal(t, models.AlertStateFiring, alert.State)

	incident, err := f.store.GetOpenIncidentByRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Equal(t, rule.Name, incident.Title)

	// notification delivery runs through the queue workers
	assert.Eventually(t, func() bool {
		return len(sentNotifications(t, f.store, alert.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	updated, err := f.store.GetRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateFiring, updated.LastState)
	assert.NotNil(t, updated.LastEvaluatedAt)
}

func TestEvaluateRuleResolvesAndNotifies(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	channel := f.addChannel(t)
	rule := f.addRule(t, []string{channel.ID})
	f.breach()
	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))

	open, err := f.store.ListOpenAlertsByRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Len(t, open, 1)
	alertID := open[0].ID

	// drown out the breach sample so the window average drops below the threshold
	for i := 0; i < 20; i++ {
		f.source.Add("cpu", datasource.LabeledPoint{Timestamp: time.Now(), Value: 10})
	}
	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))

	got, err := f.store.GetAlert(ctx, alertID)
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStateResolved, got.State)

	incident, err := f.store.GetIncident(ctx, got.IncidentID)
	assert.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, incident.Status)

	assert.Eventually(t, func() bool {
		// one fire, one resolve
		return len(sentNotifications(t, f.store, alertID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	updated, err := f.store.GetRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, updated.LastState)
}

func TestEvaluateRuleSkipsMissingAndDisabled(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.pipeline.EvaluateRule(ctx, "no-such-rule"))

	rule := f.addRule(t, nil)
	rule.Enabled = false
	assert.NoError(t, f.store.UpdateRule(ctx, rule))
	f.breach()

	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))
	open, err := f.store.ListOpenAlertsByRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Empty(t, open)
}

func TestEvaluateRuleSkipsMuted(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	rule := f.addRule(t, nil)
	until := time.Now().Add(time.Hour)
	rule.Muted = true
	rule.MutedUntil = &until
	assert.NoError(t, f.store.UpdateRule(ctx, rule))
	f.breach()

	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))
	open, err := f.store.ListOpenAlertsByRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Empty(t, open)

	got, err := f.store.GetRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Nil(t, got.LastEvaluatedAt)

	// an expired mute no longer blocks evaluation
	expired := time.Now().Add(-time.Minute)
	got.MutedUntil = &expired
	assert.NoError(t, f.store.UpdateRule(ctx, got))

	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))
	open, err = f.store.ListOpenAlertsByRule(ctx, rule.ID)
	assert.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEvaluateRuleResolvesVanishedGroup(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	channel := f.addChannel(t)
	rule := f.addRule(t, []string{channel.ID})
	rule.Spec.Threshold.GroupBy = []string{"device"}
	assert.NoError(t, f.store.UpdateRule(ctx, rule))

	// an open alert for a group that no longer shows up in the answer
	alert := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		Fingerprint: evaluator.Fingerprint(rule.ID, "dev-1"),
		State:       models.AlertStateFiring,
		Labels:      map[string]string{"device": "dev-1"},
		StartedAt:   time.Now(),
	}
	assert.NoError(t, f.store.CreateAlert(ctx, alert))

	assert.NoError(t, f.pipeline.EvaluateRule(ctx, rule.ID))

	got, err := f.store.GetAlert(ctx, alert.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStateResolved, got.State)

	assert.Eventually(t, func() bool {
		return len(sentNotifications(t, f.store, alert.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvaluateAllActiveRules(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	active := f.addRule(t, nil)
	disabled := f.addRule(t, nil)
	disabled.Enabled = false
	assert.NoError(t, f.store.UpdateRule(ctx, disabled))
	muted := f.addRule(t, nil)
	muted.Muted = true
	assert.NoError(t, f.store.UpdateRule(ctx, muted))

	assert.NoError(t, f.pipeline.EvaluateAllActiveRules(ctx))

	got, err := f.store.GetRule(ctx, active.ID)
	assert.NoError(t, err)
	assert.NotNil(t, got.LastEvaluatedAt)

	got, err = f.store.GetRule(ctx, disabled.ID)
	assert.NoError(t, err)
	assert.Nil(t, got.LastEvaluatedAt)

	got, err = f.store.GetRule(ctx, muted.ID)
	assert.NoError(t, err)
	assert.Nil(t, got.LastEvaluatedAt)
}

func TestEscalationChainWalksSteps(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first := f.addChannel(t)
	second := f.addChannel(t)
	policy := &models.EscalationPolicy{
		ID:        uuid.New().String(),
		ProjectID: "proj-1",
		Name:      "Page then widen",
		Steps: []models.EscalationStep{
			{ChannelIDs: []string{first.ID}, DelayMinutes: 0},
			{ChannelIDs: []string{second.ID}, DelayMinutes: 0},
		},
	}
	assert.NoError(t, f.store.CreatePolicy(ctx, policy))

	rule := f.addRule(t, nil)
	alert := &models.Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		State:     models.AlertStateFiring,
		Value:     95,
		StartedAt: time.Now(),
	}
	assert.NoError(t, f.store.CreateAlert(ctx, alert))

	assert.NoError(t, f.pipeline.RunEscalationStep(ctx, &EscalationPayload{
		RuleID:   rule.ID,
		AlertID:  alert.ID,
		PolicyID: policy.ID,
		Step:     0,
		Cycle:    0,
	}))

	// step 0 notifies the first channel; the queue then runs step 1
	assert.Eventually(t, func() bool {
		return len(sentNotifications(t, f.store, alert.ID)) == 2
	}, 3*time.Second, 10*time.Millisecond)

	rows, err := f.store.ListNotificationsByAlert(ctx, alert.ID)
	assert.NoError(t, err)
	channels := make(map[string]bool)
	for _, row := range rows {
		assert.Equal(t, models.NotificationKindEscalation, row.Kind)
		channels[row.ChannelID] = true
	}
	assert.True(t, channels[first.ID])
	assert.True(t, channels[second.ID])

	got, err := f.store.GetAlert(ctx, alert.ID)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, got.NotifyCount, 2)
}

func TestEscalationStopsOnAcknowledgedAlert(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	channel := f.addChannel(t)
	policy := &models.EscalationPolicy{
		ID:    uuid.New().String(),
		Name:  "Page",
		Steps: []models.EscalationStep{{ChannelIDs: []string{channel.ID}}},
	}
	assert.NoError(t, f.store.CreatePolicy(ctx, policy))

	rule := f.addRule(t, nil)
	alert := &models.Alert{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		State:        models.AlertStateFiring,
		Acknowledged: true,
		StartedAt:    time.Now(),
	}
	assert.NoError(t, f.store.CreateAlert(ctx, alert))

	assert.NoError(t, f.pipeline.RunEscalationStep(ctx, &EscalationPayload{
		RuleID:   rule.ID,
		AlertID:  alert.ID,
		PolicyID: policy.ID,
	}))

	time.Sleep(50 * time.Millisecond)
	rows, err := f.store.ListNotificationsByAlert(ctx, alert.ID)
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEscalationStopsOnMissingAlertOrPolicy(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.pipeline.RunEscalationStep(ctx, &EscalationPayload{AlertID: "gone"}))

	rule := f.addRule(t, nil)
	alert := &models.Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		State:     models.AlertStateFiring,
		StartedAt: time.Now(),
	}
	assert.NoError(t, f.store.CreateAlert(ctx, alert))
	assert.NoError(t, f.pipeline.RunEscalationStep(ctx, &EscalationPayload{
		RuleID:   rule.ID,
		AlertID:  alert.ID,
		PolicyID: "gone",
	}))
}

func TestDispatchNotificationToleratesMissingChannel(t *testing.T) {
	f := newPipelineFixture(t)
	assert.NoError(t, f.pipeline.DispatchNotification(context.Background(), &DispatchPayload{
		ChannelID: "gone",
		Kind:      models.NotificationKindFire,
	}, 1))
}
