package models

import (
	"time"
)

// IncidentStatus represents the operator-facing status of an incident
type IncidentStatus string

const (
	IncidentStatusTriggered    IncidentStatus = "triggered"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
)

// Timeline event types appended by the correlator
const (
	TimelineTriggered     = "triggered"
	TimelineAlertFired    = "alert_fired"
	TimelineAlertResolved = "alert_resolved"
	TimelineAcknowledged  = "acknowledged"
	TimelineResolved      = "resolved"
	TimelineNote          = "note"
)

// TimelineEvent is one append-only entry in an incident's timeline
type TimelineEvent struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"`
	By      string    `json:"by,omitempty"`
}

// Incident correlates the alerts of one rule into a single operator-facing
// event. At most one open (triggered/acknowledged) incident exists per rule.
type Incident struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	RuleID    string `json:"ruleId"`

	Title    string         `json:"title"`
	Summary  string         `json:"summary,omitempty"`
	Severity Severity       `json:"severity"`
	Status   IncidentStatus `json:"status"`

	TriggeredAt    time.Time  `json:"triggeredAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`

	Timeline         []TimelineEvent `json:"timeline"`
	AffectedServices []string        `json:"affectedServices,omitempty"`
	ExternalRef      string          `json:"externalRef,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Open reports whether the incident still accepts new alerts
func (i *Incident) Open() bool {
	return i.Status == IncidentStatusTriggered || i.Status == IncidentStatusAcknowledged
}

// AppendEvent adds a timeline entry, keeping the timeline append-only
func (i *Incident) AppendEvent(ev TimelineEvent) {
	i.Timeline = append(i.Timeline, ev)
}
