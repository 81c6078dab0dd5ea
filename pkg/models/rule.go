package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks configuration rejected at write time. Callers test for
// it with errors.Is before deciding on an HTTP status or task outcome.
var ErrInvalid = errors.New("invalid configuration")

// RuleType selects the evaluation strategy for a rule
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypeAnomaly   RuleType = "anomaly"
	RuleTypeAbsence   RuleType = "absence"
	RuleTypeComposite RuleType = "composite"
)

// Operator is the comparison applied between an observed value and a threshold
type Operator string

const (
	OperatorGT  Operator = "gt"
	OperatorGTE Operator = "gte"
	OperatorLT  Operator = "lt"
	OperatorLTE Operator = "lte"
	OperatorEQ  Operator = "eq"
	OperatorNEQ Operator = "neq"
)

// Aggregation names the reduction applied to a signal over a query window
type Aggregation string

const (
	AggregationAvg   Aggregation = "avg"
	AggregationSum   Aggregation = "sum"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
	AggregationCount Aggregation = "count"
	AggregationLast  Aggregation = "last"
)

// Severity represents the severity level of a rule
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Combinator joins sub-rule outcomes of a composite rule
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// ThresholdParams configures a threshold rule
type ThresholdParams struct {
	Operator      Operator          `json:"operator"`
	Threshold     float64           `json:"threshold"`
	Aggregation   Aggregation       `json:"aggregation"`
	WindowSeconds int               `json:"windowSeconds"`
	Filter        map[string]string `json:"filter,omitempty"`
	GroupBy       []string          `json:"groupBy,omitempty"`
}

// AnomalyParams configures an anomaly rule. Sensitivity runs 1-10; higher
// sensitivity lowers the deviation threshold (threshold = 10 / sensitivity).
type AnomalyParams struct {
	Sensitivity           float64           `json:"sensitivity"`
	Aggregation           Aggregation       `json:"aggregation"`
	WindowSeconds         int               `json:"windowSeconds"`
	BaselineWindowSeconds int               `json:"baselineWindowSeconds"`
	Filter                map[string]string `json:"filter,omitempty"`
}

// AbsenceParams configures an absence rule
type AbsenceParams struct {
	ExpectedIntervalSeconds int               `json:"expectedIntervalSeconds"`
	Filter                  map[string]string `json:"filter,omitempty"`
}

// CompositeParams configures a composite rule over nested definitions
type CompositeParams struct {
	Combinator Combinator `json:"combinator"`
	SubRules   []RuleSpec `json:"subRules"`
}

// RuleSpec is the evaluatable portion of a rule: the signal, the rule type
// and exactly one matching parameter block. Composite rules nest further
// RuleSpecs, which the evaluator walks recursively.
type RuleSpec struct {
	Signal    string           `json:"signal,omitempty"`
	Type      RuleType         `json:"type"`
	Threshold *ThresholdParams `json:"threshold,omitempty"`
	Anomaly   *AnomalyParams   `json:"anomaly,omitempty"`
	Absence   *AbsenceParams   `json:"absence,omitempty"`
	Composite *CompositeParams `json:"composite,omitempty"`
}

// EvalState is the outcome of a single evaluation
type EvalState string

const (
	EvalStateOK     EvalState = "ok"
	EvalStateFiring EvalState = "firing"
)

// Rule represents a monitoring condition evaluated on an interval
type Rule struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Backend     string `json:"backend"`

	Spec RuleSpec `json:"spec"`

	Severity           Severity `json:"severity"`
	ChannelIDs         []string `json:"channelIds,omitempty"`
	EscalationPolicyID string   `json:"escalationPolicyId,omitempty"`

	Enabled    bool       `json:"enabled"`
	Muted      bool       `json:"muted"`
	MutedUntil *time.Time `json:"mutedUntil,omitempty"`
	MuteReason string     `json:"muteReason,omitempty"`

	EvaluationIntervalSeconds int `json:"evaluationIntervalSeconds"`
	PendingPeriodSeconds      int `json:"pendingPeriodSeconds"`
	ResolvePeriodSeconds      int `json:"resolvePeriodSeconds"`

	LastState       EvalState  `json:"lastState,omitempty"`
	LastEvaluatedAt *time.Time `json:"lastEvaluatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PendingPeriod returns the pending hysteresis as a duration
func (r *Rule) PendingPeriod() time.Duration {
	return time.Duration(r.PendingPeriodSeconds) * time.Second
}

// ResolvePeriod returns the resolve hysteresis as a duration
func (r *Rule) ResolvePeriod() time.Duration {
	return time.Duration(r.ResolvePeriodSeconds) * time.Second
}

// EvaluationInterval returns the evaluation cadence as a duration
func (r *Rule) EvaluationInterval() time.Duration {
	return time.Duration(r.EvaluationIntervalSeconds) * time.Second
}

// MutedAt reports whether the rule is muted at the given instant. A mute
// with an expiry in the past no longer counts.
func (r *Rule) MutedAt(now time.Time) bool {
	if !r.Muted {
		return false
	}
	if r.MutedUntil != nil && !now.Before(*r.MutedUntil) {
		return false
	}
	return true
}

// Validate rejects malformed rule configuration before it is persisted
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalid)
	}
	if r.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalid)
	}
	if r.Backend == "" {
		return fmt.Errorf("%w: backend is required", ErrInvalid)
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalid, r.Severity)
	}
	if r.EvaluationIntervalSeconds <= 0 {
		return fmt.Errorf("%w: evaluation interval must be positive", ErrInvalid)
	}
	if r.PendingPeriodSeconds < 0 || r.ResolvePeriodSeconds < 0 {
		return fmt.Errorf("%w: hysteresis periods cannot be negative", ErrInvalid)
	}
	return r.Spec.Validate()
}

// Validate checks that exactly one parameter block matches the rule type
// and that the block itself is well formed.
func (s *RuleSpec) Validate() error {
	switch s.Type {
	case RuleTypeThreshold:
		if s.Threshold == nil {
			return fmt.Errorf("%w: threshold rule requires threshold params", ErrInvalid)
		}
		if s.Signal == "" {
			return fmt.Errorf("%w: threshold rule requires a signal", ErrInvalid)
		}
		switch s.Threshold.Operator {
		case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE, OperatorEQ, OperatorNEQ:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalid, s.Threshold.Operator)
		}
		if s.Threshold.WindowSeconds <= 0 {
			return fmt.Errorf("%w: threshold window must be positive", ErrInvalid)
		}
	case RuleTypeAnomaly:
		if s.Anomaly == nil {
			return fmt.Errorf("%w: anomaly rule requires anomaly params", ErrInvalid)
		}
		if s.Signal == "" {
			return fmt.Errorf("%w: anomaly rule requires a signal", ErrInvalid)
		}
		if s.Anomaly.Sensitivity < 1 || s.Anomaly.Sensitivity > 10 {
			return fmt.Errorf("%w: sensitivity must be between 1 and 10", ErrInvalid)
		}
		if s.Anomaly.BaselineWindowSeconds <= 0 {
			return fmt.Errorf("%w: baseline window must be positive", ErrInvalid)
		}
	case RuleTypeAbsence:
		if s.Absence == nil {
			return fmt.Errorf("%w: absence rule requires absence params", ErrInvalid)
		}
		if s.Signal == "" {
			return fmt.Errorf("%w: absence rule requires a signal", ErrInvalid)
		}
		if s.Absence.ExpectedIntervalSeconds <= 0 {
			return fmt.Errorf("%w: expected interval must be positive", ErrInvalid)
		}
	case RuleTypeComposite:
		if s.Composite == nil {
			return fmt.Errorf("%w: composite rule requires composite params", ErrInvalid)
		}
		if s.Composite.Combinator != CombinatorAnd && s.Composite.Combinator != CombinatorOr {
			return fmt.Errorf("%w: unknown combinator %q", ErrInvalid, s.Composite.Combinator)
		}
		if len(s.Composite.SubRules) == 0 {
			return fmt.Errorf("%w: composite rule requires at least one sub-rule", ErrInvalid)
		}
		for i := range s.Composite.SubRules {
			if err := s.Composite.SubRules[i].Validate(); err != nil {
				return fmt.Errorf("sub-rule %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalid, s.Type)
	}
	return nil
}

// CreateRuleRequest represents the request payload for creating a rule
type CreateRuleRequest struct {
	ProjectID                 string   `json:"projectId"`
	Name                      string   `json:"name"`
	Description               string   `json:"description,omitempty"`
	Backend                   string   `json:"backend"`
	Spec                      RuleSpec `json:"spec"`
	Severity                  Severity `json:"severity"`
	ChannelIDs                []string `json:"channelIds,omitempty"`
	EscalationPolicyID        string   `json:"escalationPolicyId,omitempty"`
	EvaluationIntervalSeconds int      `json:"evaluationIntervalSeconds"`
	PendingPeriodSeconds      int      `json:"pendingPeriodSeconds"`
	ResolvePeriodSeconds      int      `json:"resolvePeriodSeconds"`
}

// UpdateRuleRequest represents the request payload for updating a rule
type UpdateRuleRequest struct {
	Name                      *string   `json:"name,omitempty"`
	Description               *string   `json:"description,omitempty"`
	Backend                   *string   `json:"backend,omitempty"`
	Spec                      *RuleSpec `json:"spec,omitempty"`
	Severity                  *Severity `json:"severity,omitempty"`
	ChannelIDs                *[]string `json:"channelIds,omitempty"`
	EscalationPolicyID        *string   `json:"escalationPolicyId,omitempty"`
	Enabled                   *bool     `json:"enabled,omitempty"`
	EvaluationIntervalSeconds *int      `json:"evaluationIntervalSeconds,omitempty"`
	PendingPeriodSeconds      *int      `json:"pendingPeriodSeconds,omitempty"`
	ResolvePeriodSeconds      *int      `json:"resolvePeriodSeconds,omitempty"`
}

// MuteRuleRequest mutes a rule for a bounded duration
type MuteRuleRequest struct {
	DurationMinutes int    `json:"durationMinutes"`
	Reason          string `json:"reason,omitempty"`
}
