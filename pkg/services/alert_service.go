package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/alerting"
	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// AlertService exposes read and acknowledge operations over tracked
// alerts. Alerts are created and resolved by the pipeline, never here.
type AlertService struct {
	store      store.Store
	correlator *alerting.Correlator
}

func NewAlertService(st store.Store, correlator *alerting.Correlator) *AlertService {
	return &AlertService{store: st, correlator: correlator}
}

func (s *AlertService) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

func (s *AlertService) ListAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error) {
	return s.store.ListAlertsByRule(ctx, ruleID)
}

func (s *AlertService) ListOpenAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error) {
	return s.store.ListOpenAlertsByRule(ctx, ruleID)
}

func (s *AlertService) ListAlertsByTimeRange(ctx context.Context, ruleID string, start, end time.Time) ([]*models.Alert, error) {
	return s.store.ListAlertsByTimeRange(ctx, ruleID, start, end)
}

// AcknowledgeAlert marks a single alert acknowledged, which stops its
// escalation chain at the next step, and carries the acknowledgment over
// to the alert's incident. Acknowledging twice is a no-op.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, id, by string) (*models.Alert, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.State == models.AlertStateResolved {
		return nil, fmt.Errorf("%w: alert %s is already resolved", models.ErrInvalid, id)
	}
	if alert.Acknowledged {
		return alert, nil
	}
	now := time.Now()
	alert.Acknowledged = true
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	alert.UpdatedAt = now
	if err := s.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	logrus.Infof("Alert %s acknowledged by %s", alert.ID, by)

	// Acknowledge, unlike the rest of the service, writes incident state:
	// an acked page must not leave its incident looking unhandled. The
	// correlator no-ops on anything past triggered.
	if alert.IncidentID != "" {
		if _, err := s.correlator.Acknowledge(ctx, alert.IncidentID, by); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logrus.Warnf("Alert %s points at missing incident %s", alert.ID, alert.IncidentID)
			} else {
				return nil, fmt.Errorf("failed to acknowledge incident %s: %w", alert.IncidentID, err)
			}
		}
	}
	return alert, nil
}

// ListHistory returns the evaluation history rows for a rule since a
// point in time, newest rows last.
func (s *AlertService) ListHistory(ctx context.Context, ruleID, fingerprint string, since time.Time) ([]*models.AlertHistoryEntry, error) {
	return s.store.ListHistorySince(ctx, ruleID, fingerprint, since)
}

// IncidentService exposes incident reads plus the manual acknowledge and
// resolve transitions, delegating the state changes to the correlator so
// timeline and alert propagation stay in one place.
type IncidentService struct {
	store      store.Store
	correlator *alerting.Correlator
}

func NewIncidentService(st store.Store, correlator *alerting.Correlator) *IncidentService {
	return &IncidentService{store: st, correlator: correlator}
}

func (s *IncidentService) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	return s.store.GetIncident(ctx, id)
}

func (s *IncidentService) ListIncidents(ctx context.Context, projectID string) ([]*models.Incident, error) {
	return s.store.ListIncidents(ctx, projectID)
}

func (s *IncidentService) AcknowledgeIncident(ctx context.Context, id, by string) (*models.Incident, error) {
	return s.correlator.Acknowledge(ctx, id, by)
}

func (s *IncidentService) ResolveIncident(ctx context.Context, id, by string) (*models.Incident, error) {
	return s.correlator.Resolve(ctx, id, by)
}
