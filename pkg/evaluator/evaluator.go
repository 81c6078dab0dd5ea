// Package evaluator turns a rule definition plus backend data into
// evaluation results. A backend outage is never a firing condition:
// unavailable data degrades to an ok verdict and a warning log.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/datasource"
	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// Evaluator resolves a rule's backend and applies its evaluation
// strategy. Now is swappable for tests.
type Evaluator struct {
	registry *datasource.Registry
	Now      func() time.Time
}

func New(registry *datasource.Registry) *Evaluator {
	return &Evaluator{registry: registry, Now: time.Now}
}

// Fingerprint derives the stable dedup identity of an alert: the rule
// plus the group subject ("" for ungrouped rules). The same inputs must
// hash identically across processes and restarts.
func Fingerprint(ruleID, subject string) string {
	h := xxhash.New()
	h.WriteString(ruleID)
	h.Write([]byte{0xff})
	h.WriteString(subject)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Evaluate runs one evaluation pass for the rule. Group-by rules return
// one result per observed group; everything else returns exactly one.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.Rule) ([]models.EvaluationResult, error) {
	src, err := e.registry.Get(rule.Backend)
	if err != nil {
		logrus.Warnf("Rule %s: backend %q unavailable, treating as ok: %v", rule.ID, rule.Backend, err)
		return []models.EvaluationResult{okResult(rule.ID, "")}, nil
	}
	return e.evaluateSpec(ctx, src, rule.ID, &rule.Spec)
}

func (e *Evaluator) evaluateSpec(ctx context.Context, src datasource.DataSource, ruleID string, spec *models.RuleSpec) ([]models.EvaluationResult, error) {
	switch spec.Type {
	case models.RuleTypeThreshold:
		return e.evaluateThreshold(ctx, src, ruleID, spec)
	case models.RuleTypeAnomaly:
		return e.evaluateAnomaly(ctx, src, ruleID, spec)
	case models.RuleTypeAbsence:
		return e.evaluateAbsence(ctx, src, ruleID, spec)
	case models.RuleTypeComposite:
		return e.evaluateComposite(ctx, src, ruleID, spec)
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", models.ErrInvalid, spec.Type)
	}
}

func okResult(ruleID, subject string) models.EvaluationResult {
	return models.EvaluationResult{
		State:       models.EvalStateOK,
		Fingerprint: Fingerprint(ruleID, subject),
	}
}

// Compare applies a threshold operator. Boundary semantics are strict
// for gt/lt and inclusive for gte/lte.
func Compare(op models.Operator, value, threshold float64) bool {
	switch op {
	case models.OperatorGT:
		return value > threshold
	case models.OperatorGTE:
		return value >= threshold
	case models.OperatorLT:
		return value < threshold
	case models.OperatorLTE:
		return value <= threshold
	case models.OperatorEQ:
		return value == threshold
	case models.OperatorNEQ:
		return value != threshold
	default:
		return false
	}
}

func (e *Evaluator) evaluateThreshold(ctx context.Context, src datasource.DataSource, ruleID string, spec *models.RuleSpec) ([]models.EvaluationResult, error) {
	p := spec.Threshold
	q := datasource.AggregateQuery{
		Signal:      spec.Signal,
		Aggregation: p.Aggregation,
		Window:      time.Duration(p.WindowSeconds) * time.Second,
		Filter:      p.Filter,
		GroupBy:     p.GroupBy,
	}

	if len(p.GroupBy) > 0 {
		groups, err := src.QueryGrouped(ctx, q)
		if err != nil {
			if errors.Is(err, datasource.ErrUnavailable) {
				logrus.Warnf("Rule %s: signal %q unavailable, treating as ok: %v", ruleID, spec.Signal, err)
				return []models.EvaluationResult{okResult(ruleID, "")}, nil
			}
			return nil, err
		}
		if len(groups) == 0 {
			return []models.EvaluationResult{okResult(ruleID, "")}, nil
		}
		results := make([]models.EvaluationResult, 0, len(groups))
		for subject, value := range groups {
			r := models.EvaluationResult{
				State:       models.EvalStateOK,
				Value:       value,
				Threshold:   p.Threshold,
				Fingerprint: Fingerprint(ruleID, subject),
				Labels:      groupLabels(p.GroupBy, subject),
			}
			if Compare(p.Operator, value, p.Threshold) {
				r.State = models.EvalStateFiring
			}
			results = append(results, r)
		}
		return results, nil
	}

	value, err := src.QueryAggregate(ctx, q)
	if err != nil {
		if errors.Is(err, datasource.ErrUnavailable) {
			logrus.Warnf("Rule %s: signal %q unavailable, treating as ok: %v", ruleID, spec.Signal, err)
			return []models.EvaluationResult{okResult(ruleID, "")}, nil
		}
		return nil, err
	}
	r := okResult(ruleID, "")
	r.Threshold = p.Threshold
	if value != nil {
		r.Value = *value
		if Compare(p.Operator, *value, p.Threshold) {
			r.State = models.EvalStateFiring
		}
	}
	return []models.EvaluationResult{r}, nil
}

func groupLabels(groupBy []string, subject string) map[string]string {
	parts := strings.Split(subject, "/")
	labels := make(map[string]string, len(groupBy))
	for i, key := range groupBy {
		if i < len(parts) {
			labels[key] = parts[i]
		}
	}
	return labels
}

func (e *Evaluator) evaluateAnomaly(ctx context.Context, src datasource.DataSource, ruleID string, spec *models.RuleSpec) ([]models.EvaluationResult, error) {
	p := spec.Anomaly
	current, err := src.QueryAggregate(ctx, datasource.AggregateQuery{
		Signal:      spec.Signal,
		Aggregation: p.Aggregation,
		Window:      time.Duration(p.WindowSeconds) * time.Second,
		Filter:      p.Filter,
	})
	if err != nil {
		if errors.Is(err, datasource.ErrUnavailable) {
			logrus.Warnf("Rule %s: signal %q unavailable, treating as ok: %v", ruleID, spec.Signal, err)
			return []models.EvaluationResult{okResult(ruleID, "")}, nil
		}
		return nil, err
	}
	if current == nil {
		return []models.EvaluationResult{okResult(ruleID, "")}, nil
	}

	mean, stddev, err := src.Baseline(ctx,
		spec.Signal, time.Duration(p.BaselineWindowSeconds)*time.Second, p.Filter)
	if err != nil {
		if errors.Is(err, datasource.ErrUnavailable) {
			logrus.Warnf("Rule %s: baseline for %q unavailable, treating as ok: %v", ruleID, spec.Signal, err)
			return []models.EvaluationResult{okResult(ruleID, "")}, nil
		}
		return nil, err
	}

	// A flat baseline has no notion of deviation and never fires.
	deviation := 0.0
	if stddev > 0 {
		deviation = math.Abs(*current-mean) / stddev
	}
	limit := 10 / p.Sensitivity

	r := models.EvaluationResult{
		State:       models.EvalStateOK,
		Value:       deviation,
		Threshold:   limit,
		Fingerprint: Fingerprint(ruleID, ""),
	}
	if stddev > 0 && deviation > limit {
		r.State = models.EvalStateFiring
	}
	return []models.EvaluationResult{r}, nil
}

func (e *Evaluator) evaluateAbsence(ctx context.Context, src datasource.DataSource, ruleID string, spec *models.RuleSpec) ([]models.EvaluationResult, error) {
	p := spec.Absence
	last, err := src.LastPoint(ctx, spec.Signal, p.Filter)
	if err != nil {
		if errors.Is(err, datasource.ErrUnavailable) {
			logrus.Warnf("Rule %s: signal %q unavailable, treating as ok: %v", ruleID, spec.Signal, err)
			return []models.EvaluationResult{okResult(ruleID, "")}, nil
		}
		return nil, err
	}

	expected := time.Duration(p.ExpectedIntervalSeconds) * time.Second
	r := models.EvaluationResult{
		State:       models.EvalStateOK,
		Threshold:   expected.Seconds(),
		Fingerprint: Fingerprint(ruleID, ""),
	}
	if last == nil {
		// never seen any data: the signal is absent
		r.State = models.EvalStateFiring
		return []models.EvaluationResult{r}, nil
	}
	age := e.Now().Sub(last.Timestamp)
	r.Value = age.Seconds()
	if age > expected {
		r.State = models.EvalStateFiring
	}
	return []models.EvaluationResult{r}, nil
}

// evaluateComposite walks the sub-rules and combines their verdicts. A
// sub-rule counts as firing when any of its results fires; group-by
// granularity is collapsed at the composite level.
func (e *Evaluator) evaluateComposite(ctx context.Context, src datasource.DataSource, ruleID string, spec *models.RuleSpec) ([]models.EvaluationResult, error) {
	p := spec.Composite
	firingCount := 0
	for i := range p.SubRules {
		results, err := e.evaluateSpec(ctx, src, ruleID, &p.SubRules[i])
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if r.State == models.EvalStateFiring {
				firingCount++
				break
			}
		}
	}

	firing := false
	switch p.Combinator {
	case models.CombinatorAnd:
		firing = firingCount == len(p.SubRules)
	case models.CombinatorOr:
		firing = firingCount > 0
	}

	r := models.EvaluationResult{
		State:       models.EvalStateOK,
		Value:       float64(firingCount),
		Threshold:   float64(len(p.SubRules)),
		Fingerprint: Fingerprint(ruleID, ""),
	}
	if firing {
		r.State = models.EvalStateFiring
	}
	return []models.EvaluationResult{r}, nil
}
