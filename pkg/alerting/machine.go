// Package alerting owns alert lifecycle state: the pending/firing/resolved
// machine with hysteresis on both edges, and the correlation of alerts
// into incidents.
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

// Outcome reports what one evaluation result did to the tracked alert.
// Fired and Resolved are the notification-worthy edges; state that merely
// persists (still pending, still firing) raises neither.
type Outcome struct {
	Alert    *models.Alert
	Fired    bool
	Resolved bool
}

// Machine applies evaluation results to tracked alerts. Now is swappable
// for tests.
type Machine struct {
	store store.Store
	Now   func() time.Time
}

func NewMachine(st store.Store) *Machine {
	return &Machine{store: st, Now: time.Now}
}

// Apply advances the alert identified by the result's fingerprint.
// Returns a nil Outcome when there is nothing to track (ok result with no
// open alert, or a pending alert that recovered and was discarded).
func (m *Machine) Apply(ctx context.Context, rule *models.Rule, result models.EvaluationResult) (*Outcome, error) {
	open, err := m.store.GetOpenAlert(ctx, rule.ID, result.Fingerprint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up open alert: %w", err)
	}
	exists := err == nil

	if result.State == models.EvalStateFiring {
		if !exists {
			return m.track(ctx, rule, result)
		}
		return m.advanceFiring(ctx, rule, result, open)
	}

	if !exists {
		return nil, nil
	}
	return m.advanceOK(ctx, rule, open)
}

// track opens a new alert for a firing result. With no pending period the
// alert fires on the first breach.
func (m *Machine) track(ctx context.Context, rule *models.Rule, result models.EvaluationResult) (*Outcome, error) {
	now := m.Now()
	alert := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		Fingerprint: result.Fingerprint,
		State:       models.AlertStatePending,
		StartedAt:   now,
		Value:       result.Value,
		Threshold:   result.Threshold,
		Labels:      result.Labels,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	fired := false
	if rule.PendingPeriodSeconds == 0 {
		alert.State = models.AlertStateFiring
		alert.LastFiredAt = &now
		fired = true
	}

	if err := m.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// lost the race to a concurrent evaluation; advance the winner
			winner, gerr := m.store.GetOpenAlert(ctx, rule.ID, result.Fingerprint)
			if gerr != nil {
				return nil, fmt.Errorf("failed to re-read alert after conflict: %w", gerr)
			}
			return m.advanceFiring(ctx, rule, result, winner)
		}
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	logrus.Infof("Rule %s: tracking new alert %s in state %s", rule.ID, alert.ID, alert.State)
	return &Outcome{Alert: alert, Fired: fired}, nil
}

func (m *Machine) advanceFiring(ctx context.Context, rule *models.Rule, result models.EvaluationResult, alert *models.Alert) (*Outcome, error) {
	now := m.Now()
	alert.Value = result.Value
	alert.Threshold = result.Threshold
	alert.UpdatedAt = now

	fired := false
	switch alert.State {
	case models.AlertStatePending:
		if now.Sub(alert.StartedAt) >= rule.PendingPeriod() {
			alert.State = models.AlertStateFiring
			alert.LastFiredAt = &now
			fired = true
			logrus.Infof("Rule %s: alert %s pending period elapsed, now firing", rule.ID, alert.ID)
		}
	case models.AlertStateFiring:
		alert.LastFiredAt = &now
	}

	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	return &Outcome{Alert: alert, Fired: fired}, nil
}

func (m *Machine) advanceOK(ctx context.Context, rule *models.Rule, alert *models.Alert) (*Outcome, error) {
	now := m.Now()

	if alert.State == models.AlertStatePending {
		// a breach that never fired is discarded, not resolved
		if err := m.store.DeleteAlert(ctx, alert.ID); err != nil {
			return nil, fmt.Errorf("failed to discard pending alert: %w", err)
		}
		logrus.Debugf("Rule %s: discarded pending alert %s after recovery", rule.ID, alert.ID)
		return nil, nil
	}

	confirmed, err := m.resolveConfirmed(ctx, rule, alert, now)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return &Outcome{Alert: alert}, nil
	}

	alert.State = models.AlertStateResolved
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	logrus.Infof("Rule %s: alert %s resolved", rule.ID, alert.ID)
	return &Outcome{Alert: alert, Resolved: true}, nil
}

// resolveConfirmed checks the resolve hysteresis: the condition must have
// stayed ok for the whole resolve period. Any firing observation inside
// the window, including the alert's own last fire, keeps it open.
func (m *Machine) resolveConfirmed(ctx context.Context, rule *models.Rule, alert *models.Alert, now time.Time) (bool, error) {
	if rule.ResolvePeriodSeconds == 0 {
		return true, nil
	}
	since := now.Add(-rule.ResolvePeriod())
	if alert.LastFiredAt != nil && alert.LastFiredAt.After(since) {
		return false, nil
	}
	entries, err := m.store.ListHistorySince(ctx, rule.ID, alert.Fingerprint, since)
	if err != nil {
		return false, fmt.Errorf("failed to scan evaluation history: %w", err)
	}
	for _, e := range entries {
		if e.State == models.EvalStateFiring {
			return false, nil
		}
	}
	return true, nil
}
