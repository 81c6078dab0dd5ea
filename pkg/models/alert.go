package models

import (
	"time"
)

// AlertState represents the lifecycle state of a tracked alert
type AlertState string

const (
	AlertStatePending  AlertState = "pending"
	AlertStateFiring   AlertState = "firing"
	AlertStateResolved AlertState = "resolved"
)

// EvaluationResult is the outcome of evaluating one rule against its data
// source. It is transient; the pipeline records it into AlertHistory right
// after evaluation. The fingerprint is stable for identical rule+grouping
// inputs, which is what lets one rule track several independently-firing
// series.
type EvaluationResult struct {
	State       EvalState         `json:"state"`
	Value       float64           `json:"value"`
	Threshold   float64           `json:"threshold"`
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Alert represents one tracked instance of a rule firing for one
// fingerprint. At most one non-resolved alert exists per (rule,
// fingerprint); that uniqueness is the dedup backstop under concurrent
// evaluation.
type Alert struct {
	ID          string     `json:"id"`
	RuleID      string     `json:"ruleId"`
	Fingerprint string     `json:"fingerprint"`
	State       AlertState `json:"state"`

	StartedAt   time.Time  `json:"startedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty"`

	Value     float64           `json:"value"`
	Threshold float64           `json:"threshold"`
	Labels    map[string]string `json:"labels,omitempty"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`

	NotifyCount int    `json:"notifyCount"`
	IncidentID  string `json:"incidentId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AlertHistoryEntry is one append-only row per evaluation of a rule
// fingerprint, used to confirm sustained-ok resolution.
type AlertHistoryEntry struct {
	ID          int64     `json:"id"`
	RuleID      string    `json:"ruleId"`
	Fingerprint string    `json:"fingerprint"`
	State       EvalState `json:"state"`
	Value       float64   `json:"value"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// AcknowledgeAlertRequest represents the request payload for acknowledging an alert
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
}
