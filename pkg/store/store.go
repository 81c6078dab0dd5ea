// Package store defines the persistence boundary of the alerting engine.
// The core reads and writes entities through these interfaces only; the
// backing technology (sqlite, in-memory) is wired in at startup.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// ErrNotFound is returned when a referenced entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when creating an alert would violate the
// one-non-resolved-alert-per-(rule, fingerprint) constraint. It is the
// dedup backstop under concurrent evaluation: the caller re-reads and
// transitions the winner instead.
var ErrConflict = errors.New("conflict")

// RuleStore persists rule definitions
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.Rule) error
	UpdateRule(ctx context.Context, rule *models.Rule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	ListRules(ctx context.Context, projectID string) ([]*models.Rule, error)
	ListEnabledRules(ctx context.Context) ([]*models.Rule, error)
}

// AlertStore persists tracked alert instances
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	UpdateAlert(ctx context.Context, alert *models.Alert) error
	DeleteAlert(ctx context.Context, id string) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	GetOpenAlert(ctx context.Context, ruleID, fingerprint string) (*models.Alert, error)
	ListAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error)
	ListOpenAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error)
	ListAlertsByTimeRange(ctx context.Context, ruleID string, start, end time.Time) ([]*models.Alert, error)
}

// AlertHistoryStore records one row per evaluation, append-only
type AlertHistoryStore interface {
	AppendHistory(ctx context.Context, entry *models.AlertHistoryEntry) error
	ListHistorySince(ctx context.Context, ruleID, fingerprint string, since time.Time) ([]*models.AlertHistoryEntry, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// IncidentStore persists incidents and their timelines
type IncidentStore interface {
	CreateIncident(ctx context.Context, incident *models.Incident) error
	UpdateIncident(ctx context.Context, incident *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	GetOpenIncidentByRule(ctx context.Context, ruleID string) (*models.Incident, error)
	ListIncidents(ctx context.Context, projectID string) ([]*models.Incident, error)
}

// PolicyStore persists escalation policies
type PolicyStore interface {
	CreatePolicy(ctx context.Context, policy *models.EscalationPolicy) error
	UpdatePolicy(ctx context.Context, policy *models.EscalationPolicy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*models.EscalationPolicy, error)
	ListPolicies(ctx context.Context, projectID string) ([]*models.EscalationPolicy, error)
}

// ChannelStore persists notification channels
type ChannelStore interface {
	CreateChannel(ctx context.Context, channel *models.NotificationChannel) error
	UpdateChannel(ctx context.Context, channel *models.NotificationChannel) error
	DeleteChannel(ctx context.Context, id string) error
	GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error)
	ListChannels(ctx context.Context, projectID string) ([]*models.NotificationChannel, error)
}

// NotificationStore records delivery attempts. Rows are append-only;
// UpdateNotification exists only for the pending->sent/failed transition.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsByAlert(ctx context.Context, alertID string) ([]*models.Notification, error)
	ListNotificationsByChannel(ctx context.Context, channelID string, limit int) ([]*models.Notification, error)
}

// MaintenanceStore persists maintenance windows
type MaintenanceStore interface {
	CreateWindow(ctx context.Context, w *models.MaintenanceWindow) error
	UpdateWindow(ctx context.Context, w *models.MaintenanceWindow) error
	DeleteWindow(ctx context.Context, id string) error
	GetWindow(ctx context.Context, id string) (*models.MaintenanceWindow, error)
	ListActiveWindows(ctx context.Context, projectID string) ([]*models.MaintenanceWindow, error)
}

// OnCallStore persists on-call schedules
type OnCallStore interface {
	CreateSchedule(ctx context.Context, s *models.OnCallSchedule) error
	UpdateSchedule(ctx context.Context, s *models.OnCallSchedule) error
	DeleteSchedule(ctx context.Context, id string) error
	GetSchedule(ctx context.Context, id string) (*models.OnCallSchedule, error)
	ListSchedules(ctx context.Context, projectID string) ([]*models.OnCallSchedule, error)
}

// Store aggregates every entity store behind one handle
type Store interface {
	RuleStore
	AlertStore
	AlertHistoryStore
	IncidentStore
	PolicyStore
	ChannelStore
	NotificationStore
	MaintenanceStore
	OnCallStore

	Close() error
}
