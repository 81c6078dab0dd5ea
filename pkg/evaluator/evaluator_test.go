package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/datasource"
	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// stubSource returns canned values so tests control every input exactly
type stubSource struct {
	agg     map[string]*float64
	grouped map[string]map[string]float64
	mean    float64
	stddev  float64
	last    map[string]*datasource.Point
	fail    bool
}

var _ datasource.DataSource = (*stubSource)(nil)

func (s *stubSource) QueryAggregate(ctx context.Context, q datasource.AggregateQuery) (*float64, error) {
	if s.fail {
		return nil, datasource.ErrUnavailable
	}
	return s.agg[q.Signal], nil
}

func (s *stubSource) QueryGrouped(ctx context.Context, q datasource.AggregateQuery) (map[string]float64, error) {
	if s.fail {
		return nil, datasource.ErrUnavailable
	}
	return s.grouped[q.Signal], nil
}

func (s *stubSource) Baseline(ctx context.Context, signal string, window time.Duration, filter map[string]string) (float64, float64, error) {
	if s.fail {
		return 0, 0, datasource.ErrUnavailable
	}
	return s.mean, s.stddev, nil
}

func (s *stubSource) LastPoint(ctx context.Context, signal string, filter map[string]string) (*datasource.Point, error) {
	if s.fail {
		return nil, datasource.ErrUnavailable
	}
	return s.last[signal], nil
}

func (s *stubSource) Close() error { return nil }

func newTestEvaluator(src datasource.DataSource) *Evaluator {
	reg := datasource.NewRegistry()
	reg.Register("test", src)
	return New(reg)
}

func floatPtr(v float64) *float64 { return &v }

func thresholdRule(op models.Operator, threshold float64) *models.Rule {
	return &models.Rule{
		ID:      "rule-1",
		Backend: "test",
		Spec: models.RuleSpec{
			Signal: "cpu",
			Type:   models.RuleTypeThreshold,
			Threshold: &models.ThresholdParams{
				Operator:      op,
				Threshold:     threshold,
				Aggregation:   models.AggregationAvg,
				WindowSeconds: 300,
			},
		},
	}
}

func TestCompareOperators(t *testing.T) {
	cases := []struct {
		op        models.Operator
		value     float64
		threshold float64
		want      bool
	}{
		{models.OperatorGT, 80.1, 80, true},
		{models.OperatorGT, 80, 80, false},
		{models.OperatorGTE, 80, 80, true},
		{models.OperatorGTE, 79.9, 80, false},
		{models.OperatorLT, 79.9, 80, true},
		{models.OperatorLT, 80, 80, false},
		{models.OperatorLTE, 80, 80, true},
		{models.OperatorLTE, 80.1, 80, false},
		{models.OperatorEQ, 80, 80, true},
		{models.OperatorEQ, 80.1, 80, false},
		{models.OperatorNEQ, 80.1, 80, true},
		{models.OperatorNEQ, 80, 80, false},
	}
	for _, tc := range cases {
		got := Compare(tc.op, tc.value, tc.threshold)
		assert.Equal(t, tc.want, got, "%v %v %v", tc.value, tc.op, tc.threshold)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("rule-1", "host-a")
	b := Fingerprint("rule-1", "host-a")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint("rule-1", "host-b"))
	assert.NotEqual(t, a, Fingerprint("rule-2", "host-a"))
	assert.NotEqual(t, Fingerprint("rule-1", ""), Fingerprint("rule-1", "host-a"))
}

func TestThresholdEvaluation(t *testing.T) {
	src := &stubSource{agg: map[string]*float64{"cpu": floatPtr(92.5)}}
	e := newTestEvaluator(src)

	results, err := e.Evaluate(context.Background(), thresholdRule(models.OperatorGT, 80))
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, models.EvalStateFiring, results[0].State)
	assert.Equal(t, 92.5, results[0].Value)
	assert.Equal(t, 80.0, results[0].Threshold)

	results, err = e.Evaluate(context.Background(), thresholdRule(models.OperatorGT, 95))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)
}

func TestThresholdNoDataIsOK(t *testing.T) {
	src := &stubSource{agg: map[string]*float64{}}
	e := newTestEvaluator(src)

	results, err := e.Evaluate(context.Background(), thresholdRule(models.OperatorGT, 80))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)
}

func TestThresholdBackendFailureIsOK(t *testing.T) {
	src := &stubSource{fail: true}
	e := newTestEvaluator(src)

	results, err := e.Evaluate(context.Background(), thresholdRule(models.OperatorGT, 80))
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, models.EvalStateOK, results[0].State)
}

func TestUnknownBackendIsOK(t *testing.T) {
	e := New(datasource.NewRegistry())
	results, err := e.Evaluate(context.Background(), thresholdRule(models.OperatorGT, 80))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)
}

func TestThresholdGroupBy(t *testing.T) {
	src := &stubSource{grouped: map[string]map[string]float64{
		"cpu": {"host-a": 95, "host-b": 40},
	}}
	e := newTestEvaluator(src)

	rule := thresholdRule(models.OperatorGT, 80)
	rule.Spec.Threshold.GroupBy = []string{"host"}

	results, err := e.Evaluate(context.Background(), rule)
	assert.NoError(t, err)
	assert.Len(t, results, 2)

	byFp := map[string]models.EvaluationResult{}
	for _, r := range results {
		byFp[r.Fingerprint] = r
	}
	firing := byFp[Fingerprint("rule-1", "host-a")]
	ok := byFp[Fingerprint("rule-1", "host-b")]
	assert.Equal(t, models.EvalStateFiring, firing.State)
	assert.Equal(t, "host-a", firing.Labels["host"])
	assert.Equal(t, models.EvalStateOK, ok.State)
}

func anomalyRule(sensitivity float64) *models.Rule {
	return &models.Rule{
		ID:      "rule-1",
		Backend: "test",
		Spec: models.RuleSpec{
			Signal: "latency",
			Type:   models.RuleTypeAnomaly,
			Anomaly: &models.AnomalyParams{
				Sensitivity:           sensitivity,
				Aggregation:           models.AggregationAvg,
				WindowSeconds:         300,
				BaselineWindowSeconds: 3600,
			},
		},
	}
}

func TestAnomalyEvaluation(t *testing.T) {
	// mean 100, stddev 10, current 300: deviation 20 beats limit 10/1
	src := &stubSource{
		agg:    map[string]*float64{"latency": floatPtr(300)},
		mean:   100,
		stddev: 10,
	}
	e := newTestEvaluator(src)

	results, err := e.Evaluate(context.Background(), anomalyRule(1.0))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateFiring, results[0].State)
	assert.Equal(t, 20.0, results[0].Value)

	// current 105: deviation 0.5 stays under the limit
	src.agg["latency"] = floatPtr(105)
	results, err = e.Evaluate(context.Background(), anomalyRule(1.0))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)
}

func TestAnomalyFlatBaselineNeverFires(t *testing.T) {
	src := &stubSource{
		agg:    map[string]*float64{"latency": floatPtr(1000000)},
		mean:   100,
		stddev: 0,
	}
	e := newTestEvaluator(src)

	results, err := e.Evaluate(context.Background(), anomalyRule(10))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)
	assert.Equal(t, 0.0, results[0].Value)
}

func absenceRule(expectedSeconds int) *models.Rule {
	return &models.Rule{
		ID:      "rule-1",
		Backend: "test",
		Spec: models.RuleSpec{
			Signal: "heartbeat",
			Type:   models.RuleTypeAbsence,
			Absence: &models.AbsenceParams{
				ExpectedIntervalSeconds: expectedSeconds,
			},
		},
	}
}

func TestAbsenceEvaluation(t *testing.T) {
	now := time.Now()
	src := &stubSource{last: map[string]*datasource.Point{
		"heartbeat": {Timestamp: now.Add(-3 * time.Minute), Value: 1},
	}}
	e := newTestEvaluator(src)
	e.Now = func() time.Time { return now }

	// 3 minutes old against a 5-minute expectation: fine
	results, err := e.Evaluate(context.Background(), absenceRule(300))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)

	// 10 minutes old: absent
	src.last["heartbeat"] = &datasource.Point{Timestamp: now.Add(-10 * time.Minute), Value: 1}
	results, err = e.Evaluate(context.Background(), absenceRule(300))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateFiring, results[0].State)
	assert.InDelta(t, 600, results[0].Value, 1)

	// no data at all: absent
	delete(src.last, "heartbeat")
	results, err = e.Evaluate(context.Background(), absenceRule(300))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateFiring, results[0].State)
}

func compositeRule(comb models.Combinator) *models.Rule {
	return &models.Rule{
		ID:      "rule-1",
		Backend: "test",
		Spec: models.RuleSpec{
			Type: models.RuleTypeComposite,
			Composite: &models.CompositeParams{
				Combinator: comb,
				SubRules: []models.RuleSpec{
					{
						Signal: "cpu",
						Type:   models.RuleTypeThreshold,
						Threshold: &models.ThresholdParams{
							Operator: models.OperatorGT, Threshold: 80,
							Aggregation: models.AggregationAvg, WindowSeconds: 300,
						},
					},
					{
						Signal: "memory",
						Type:   models.RuleTypeThreshold,
						Threshold: &models.ThresholdParams{
							Operator: models.OperatorGT, Threshold: 90,
							Aggregation: models.AggregationAvg, WindowSeconds: 300,
						},
					},
				},
			},
		},
	}
}

func TestCompositeEvaluation(t *testing.T) {
	src := &stubSource{agg: map[string]*float64{
		"cpu":    floatPtr(95),
		"memory": floatPtr(50),
	}}
	e := newTestEvaluator(src)

	// one of two firing
	results, err := e.Evaluate(context.Background(), compositeRule(models.CombinatorAnd))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateOK, results[0].State)

	results, err = e.Evaluate(context.Background(), compositeRule(models.CombinatorOr))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateFiring, results[0].State)

	// both firing
	src.agg["memory"] = floatPtr(95)
	results, err = e.Evaluate(context.Background(), compositeRule(models.CombinatorAnd))
	assert.NoError(t, err)
	assert.Equal(t, models.EvalStateFiring, results[0].State)
	assert.Equal(t, 2.0, results[0].Value)
}

func TestStaticSourceWindowing(t *testing.T) {
	now := time.Now()
	src := datasource.NewStaticSource()
	src.Now = func() time.Time { return now }
	src.Add("cpu", datasource.LabeledPoint{Timestamp: now.Add(-time.Minute), Value: 90, Labels: map[string]string{"host": "a"}})
	src.Add("cpu", datasource.LabeledPoint{Timestamp: now.Add(-2 * time.Minute), Value: 70, Labels: map[string]string{"host": "a"}})
	src.Add("cpu", datasource.LabeledPoint{Timestamp: now.Add(-time.Hour), Value: 10, Labels: map[string]string{"host": "a"}})

	e := newTestEvaluator(src)
	results, err := e.Evaluate(context.Background(), thresholdRule(models.OperatorGT, 75))
	assert.NoError(t, err)
	// stale point falls outside the 5m window: avg(90, 70) = 80 > 75
	assert.Equal(t, models.EvalStateFiring, results[0].State)
	assert.Equal(t, 80.0, results[0].Value)
}
