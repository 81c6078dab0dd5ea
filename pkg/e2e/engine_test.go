// Package e2e exercises the whole engine in process: API, scheduler,
// evaluation pipeline, alert state, incidents and webhook delivery,
// backed by the in-memory store and the static data source.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainz-lab/signal-sub000/pkg/alerting"
	"github.com/brainz-lab/signal-sub000/pkg/api"
	"github.com/brainz-lab/signal-sub000/pkg/datasource"
	"github.com/brainz-lab/signal-sub000/pkg/evaluator"
	"github.com/brainz-lab/signal-sub000/pkg/maintenance"
	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/notify"
	"github.com/brainz-lab/signal-sub000/pkg/oncall"
	"github.com/brainz-lab/signal-sub000/pkg/queue"
	"github.com/brainz-lab/signal-sub000/pkg/scheduler"
	"github.com/brainz-lab/signal-sub000/pkg/services"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

type engine struct {
	router *echo.Echo
	store  *store.MemoryStore
	source *datasource.StaticSource
	hooks  *int64
}

// startEngine assembles the full stack the way cmd/server does, with a
// local HTTP sink standing in for the webhook destination.
func startEngine(t *testing.T) (*engine, string) {
	st := store.NewMemoryStore()
	source := datasource.NewStaticSource()
	registry := datasource.NewRegistry()
	registry.Register("static", source)

	var hookCount int64
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hookCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sink.Close)

	dispatcher := notify.NewDispatcher(
		st,
		notify.NewTransports(notify.NewWebhookTransport()),
		notify.NewStaticSecrets(nil),
		notify.NewRateLimiter(notify.NewMemoryCounters(), notify.DefaultLimits()),
		maintenance.NewGate(st),
	)

	q := queue.New(2)
	pipeline := services.NewPipeline(
		st,
		evaluator.New(registry),
		alerting.NewMachine(st),
		alerting.NewCorrelator(st),
		dispatcher,
		q,
	)
	pipeline.RegisterTasks(q)

	ctx := context.Background()
	q.Start(ctx)
	t.Cleanup(q.Stop)

	sched := scheduler.New(st, pipeline)
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(sched.Stop)

	correlator := alerting.NewCorrelator(st)
	handler := api.NewAPIHandler(
		services.NewRuleService(st, sched),
		services.NewAlertService(st, correlator),
		services.NewIncidentService(st, correlator),
		services.NewChannelService(st, dispatcher),
		services.NewPolicyService(st),
		services.NewMaintenanceService(st),
		services.NewOnCallService(st, oncall.NewResolver(st)),
	)
	router := echo.New()
	handler.SetupRoutes(router)

	return &engine{router: router, store: st, source: source, hooks: &hookCount}, sink.URL
}

func (e *engine) do(t *testing.T, method, path string, body, out interface{}) int {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestFireNotifyAcknowledgeResolve(t *testing.T) {
	eng, sinkURL := startEngine(t)

	var channel models.NotificationChannel
	code := eng.do(t, http.MethodPost, "/api/channels", models.NotificationChannel{
		ProjectID: "proj-1",
		Name:      "E2E sink",
		Type:      models.ChannelTypeWebhook,
		Config:    map[string]string{"url": sinkURL},
	}, &channel)
	require.Equal(t, http.StatusCreated, code)

	var rule models.Rule
	code = eng.do(t, http.MethodPost, "/api/rules", models.CreateRuleRequest{
		ProjectID: "proj-1",
		Name:      "Temperature too high",
		Backend:   "static",
		Severity:  models.SeverityCritical,
		Spec: models.RuleSpec{
			Signal: "temp",
			Type:   models.RuleTypeThreshold,
			Threshold: &models.ThresholdParams{
				Operator:      models.OperatorGT,
				Threshold:     80,
				Aggregation:   models.AggregationMax,
				WindowSeconds: 2,
			},
		},
		ChannelIDs:                []string{channel.ID},
		EvaluationIntervalSeconds: 1,
	}, &rule)
	require.Equal(t, http.StatusCreated, code)

	// breach: the scheduler picks it up within its 1s cadence
	eng.source.Add("temp", datasource.LabeledPoint{Timestamp: time.Now(), Value: 95})

	var alerts []models.Alert
	assert.Eventually(t, func() bool {
		alerts = nil
		code := eng.do(t, http.MethodGet, "/api/alerts?rule_id="+rule.ID+"&open=true", nil, &alerts)
		return code == http.StatusOK && len(alerts) == 1 && alerts[0].State == models.AlertStateFiring
	}, 10*time.Second, 100*time.Millisecond, "alert should fire")

	// the webhook sink received the fire notification
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(eng.hooks) >= 1
	}, 10*time.Second, 100*time.Millisecond, "webhook should be delivered")

	// an incident was opened for the rule
	var incidents []models.Incident
	code = eng.do(t, http.MethodGet, "/api/incidents?project_id=proj-1", nil, &incidents)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, incidents, 1)
	assert.Equal(t, models.IncidentStatusTriggered, incidents[0].Status)

	// acknowledge through the API
	var acked models.Alert
	code = eng.do(t, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/acknowledge", models.AcknowledgeAlertRequest{
		AcknowledgedBy: "ops@example.com",
	}, &acked)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, acked.Acknowledged)

	// the ack carried over to the incident
	var ackedIncident models.Incident
	code = eng.do(t, http.MethodGet, "/api/incidents/"+incidents[0].ID, nil, &ackedIncident)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.IncidentStatusAcknowledged, ackedIncident.Status)
	assert.Equal(t, "ops@example.com", ackedIncident.AcknowledgedBy)

	// the breach sample ages out of the 2s window, the rule goes quiet
	// and the alert resolves on a later pass
	assert.Eventually(t, func() bool {
		var got models.Alert
		code := eng.do(t, http.MethodGet, "/api/alerts/"+alerts[0].ID, nil, &got)
		return code == http.StatusOK && got.State == models.AlertStateResolved
	}, 15*time.Second, 200*time.Millisecond, "alert should resolve")

	// with its last alert resolved the incident closes too
	assert.Eventually(t, func() bool {
		var got models.Incident
		code := eng.do(t, http.MethodGet, "/api/incidents/"+incidents[0].ID, nil, &got)
		return code == http.StatusOK && got.Status == models.IncidentStatusResolved
	}, 10*time.Second, 200*time.Millisecond, "incident should resolve")
}

func TestMutedRuleIsNotEvaluated(t *testing.T) {
	eng, sinkURL := startEngine(t)

	var channel models.NotificationChannel
	code := eng.do(t, http.MethodPost, "/api/channels", models.NotificationChannel{
		ProjectID: "proj-1",
		Name:      "E2E sink",
		Type:      models.ChannelTypeWebhook,
		Config:    map[string]string{"url": sinkURL},
	}, &channel)
	require.Equal(t, http.StatusCreated, code)

	var rule models.Rule
	code = eng.do(t, http.MethodPost, "/api/rules", models.CreateRuleRequest{
		ProjectID: "proj-1",
		Name:      "Muted rule",
		Backend:   "static",
		Spec: models.RuleSpec{
			Signal: "muted_signal",
			Type:   models.RuleTypeThreshold,
			Threshold: &models.ThresholdParams{
				Operator:      models.OperatorGT,
				Threshold:     10,
				Aggregation:   models.AggregationMax,
				WindowSeconds: 60,
			},
		},
		ChannelIDs:                []string{channel.ID},
		EvaluationIntervalSeconds: 1,
	}, &rule)
	require.Equal(t, http.StatusCreated, code)

	code = eng.do(t, http.MethodPost, "/api/rules/"+rule.ID+"/mute", models.MuteRuleRequest{Reason: "maintenance"}, nil)
	require.Equal(t, http.StatusOK, code)

	eng.source.Add("muted_signal", datasource.LabeledPoint{Timestamp: time.Now(), Value: 50})

	// the scheduler keeps ticking but skips the muted rule: no alert
	// opens and nothing reaches the sink
	assert.Never(t, func() bool {
		var alerts []models.Alert
		code := eng.do(t, http.MethodGet, "/api/alerts?rule_id="+rule.ID+"&open=true", nil, &alerts)
		return code == http.StatusOK && len(alerts) > 0
	}, 3*time.Second, 100*time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(eng.hooks))

	// unmuting brings the rule back on the next pass
	code = eng.do(t, http.MethodPost, "/api/rules/"+rule.ID+"/unmute", nil, nil)
	require.Equal(t, http.StatusOK, code)

	assert.Eventually(t, func() bool {
		var alerts []models.Alert
		code := eng.do(t, http.MethodGet, "/api/alerts?rule_id="+rule.ID+"&open=true", nil, &alerts)
		return code == http.StatusOK && len(alerts) == 1
	}, 10*time.Second, 100*time.Millisecond)
}
