package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// Correlator groups a rule's alerts under a single open incident. One
// open incident per rule at a time; new fires while it is open land on
// its timeline instead of opening another.
type Correlator struct {
	store store.Store
	Now   func() time.Time
}

func NewCorrelator(st store.Store) *Correlator {
	return &Correlator{store: st, Now: time.Now}
}

// OnAlertFired attaches the alert to the rule's open incident, creating
// one if needed, and stamps the alert with the incident id.
func (c *Correlator) OnAlertFired(ctx context.Context, rule *models.Rule, alert *models.Alert) (*models.Incident, error) {
	now := c.Now()

	incident, err := c.store.GetOpenIncidentByRule(ctx, rule.ID)
	if errors.Is(err, store.ErrNotFound) {
		incident = &models.Incident{
			ID:          uuid.New().String(),
			ProjectID:   rule.ProjectID,
			RuleID:      rule.ID,
			Title:       rule.Name,
			Summary:     rule.Description,
			Severity:    rule.Severity,
			Status:      models.IncidentStatusTriggered,
			TriggeredAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		incident.AppendEvent(models.TimelineEvent{
			At:      now,
			Type:    models.TimelineTriggered,
			Message: fmt.Sprintf("Incident opened by alert %s", alert.ID),
		})
		if cerr := c.store.CreateIncident(ctx, incident); cerr != nil {
			return nil, fmt.Errorf("failed to create incident: %w", cerr)
		}
		logrus.Infof("Rule %s: opened incident %s", rule.ID, incident.ID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	} else {
		incident.AppendEvent(models.TimelineEvent{
			At:      now,
			Type:    models.TimelineAlertFired,
			Message: fmt.Sprintf("Alert %s fired (value %.4g)", alert.ID, alert.Value),
		})
		incident.UpdatedAt = now
		if uerr := c.store.UpdateIncident(ctx, incident); uerr != nil {
			return nil, fmt.Errorf("failed to update incident: %w", uerr)
		}
	}

	alert.IncidentID = incident.ID
	alert.UpdatedAt = now
	if err := c.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to attach alert to incident: %w", err)
	}
	return incident, nil
}

// OnAlertResolved records the resolution on the incident timeline and
// closes the incident once no alert is still firing for the rule.
func (c *Correlator) OnAlertResolved(ctx context.Context, rule *models.Rule, alert *models.Alert) (*models.Incident, error) {
	incident, err := c.store.GetOpenIncidentByRule(ctx, rule.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	}

	now := c.Now()
	incident.AppendEvent(models.TimelineEvent{
		At:      now,
		Type:    models.TimelineAlertResolved,
		Message: fmt.Sprintf("Alert %s resolved", alert.ID),
	})

	remaining, err := c.store.ListOpenAlertsByRule(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	// pending alerts never paged anyone and do not hold the incident open
	stillFiring := false
	for _, a := range remaining {
		if a.State == models.AlertStateFiring {
			stillFiring = true
			break
		}
	}
	if !stillFiring {
		incident.Status = models.IncidentStatusResolved
		incident.ResolvedAt = &now
		incident.ResolvedBy = "system"
		incident.AppendEvent(models.TimelineEvent{
			At:      now,
			Type:    models.TimelineResolved,
			Message: "All alerts resolved",
			By:      "system",
		})
		logrus.Infof("Rule %s: incident %s auto-resolved", rule.ID, incident.ID)
	}

	incident.UpdatedAt = now
	if err := c.store.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}
	return incident, nil
}

// Acknowledge marks the incident acknowledged and propagates the ack to
// its rule's open alerts. Acknowledging twice is a no-op.
func (c *Correlator) Acknowledge(ctx context.Context, incidentID, by string) (*models.Incident, error) {
	incident, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != models.IncidentStatusTriggered {
		return incident, nil
	}

	now := c.Now()
	incident.Status = models.IncidentStatusAcknowledged
	incident.AcknowledgedAt = &now
	incident.AcknowledgedBy = by
	incident.AppendEvent(models.TimelineEvent{
		At:   now,
		Type: models.TimelineAcknowledged,
		By:   by,
	})
	incident.UpdatedAt = now
	if err := c.store.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to acknowledge incident: %w", err)
	}

	open, err := c.store.ListOpenAlertsByRule(ctx, incident.RuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	for _, alert := range open {
		if alert.Acknowledged {
			continue
		}
		alert.Acknowledged = true
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = by
		alert.UpdatedAt = now
		if err := c.store.UpdateAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to acknowledge alert %s: %w", alert.ID, err)
		}
	}
	return incident, nil
}

// Resolve closes the incident by hand without waiting for its alerts
func (c *Correlator) Resolve(ctx context.Context, incidentID, by string) (*models.Incident, error) {
	incident, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentStatusResolved {
		return incident, nil
	}

	now := c.Now()
	incident.Status = models.IncidentStatusResolved
	incident.ResolvedAt = &now
	incident.ResolvedBy = by
	incident.AppendEvent(models.TimelineEvent{
		At:   now,
		Type: models.TimelineResolved,
		By:   by,
	})
	incident.UpdatedAt = now
	if err := c.store.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	return incident, nil
}
