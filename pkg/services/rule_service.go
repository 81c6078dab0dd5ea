// Package services holds the engine's application layer: rule lifecycle
// management and the evaluation pipeline that the scheduler and task
// queue drive.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// RuleScheduler is notified when rules appear, change or go away so the
// evaluation cadence can follow.
type RuleScheduler interface {
	ScheduleRule(rule *models.Rule) error
	UnscheduleRule(ruleID string)
}

// RuleService manages the lifecycle of rules
type RuleService struct {
	store     store.Store
	scheduler RuleScheduler
}

// NewRuleService creates a new rule service. The scheduler may be nil in
// tests that only exercise persistence.
func NewRuleService(st store.Store, scheduler RuleScheduler) *RuleService {
	return &RuleService{store: st, scheduler: scheduler}
}

// CreateRule validates and persists a new rule and schedules its
// evaluation when enabled.
func (s *RuleService) CreateRule(ctx context.Context, req *models.CreateRuleRequest) (*models.Rule, error) {
	now := time.Now()
	rule := &models.Rule{
		ID:                        uuid.New().String(),
		ProjectID:                 req.ProjectID,
		Name:                      req.Name,
		Description:               req.Description,
		Backend:                   req.Backend,
		Spec:                      req.Spec,
		Severity:                  req.Severity,
		ChannelIDs:                req.ChannelIDs,
		EscalationPolicyID:        req.EscalationPolicyID,
		Enabled:                   true,
		EvaluationIntervalSeconds: req.EvaluationIntervalSeconds,
		PendingPeriodSeconds:      req.PendingPeriodSeconds,
		ResolvePeriodSeconds:      req.ResolvePeriodSeconds,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, rule); err != nil {
		return nil, err
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	logrus.Infof("Created rule %s (%s)", rule.ID, rule.Name)

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleRule(rule); err != nil {
			logrus.Errorf("Failed to schedule rule %s: %v", rule.ID, err)
		}
	}
	return rule, nil
}

// validateReferences rejects rules pointing at channels or policies that
// do not exist, at write time rather than at dispatch time.
func (s *RuleService) validateReferences(ctx context.Context, rule *models.Rule) error {
	for _, chID := range rule.ChannelIDs {
		if _, err := s.store.GetChannel(ctx, chID); err != nil {
			return fmt.Errorf("%w: channel %s does not exist", models.ErrInvalid, chID)
		}
	}
	if rule.EscalationPolicyID != "" {
		if _, err := s.store.GetPolicy(ctx, rule.EscalationPolicyID); err != nil {
			return fmt.Errorf("%w: escalation policy %s does not exist", models.ErrInvalid, rule.EscalationPolicyID)
		}
	}
	return nil
}

func (s *RuleService) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	return s.store.GetRule(ctx, id)
}

func (s *RuleService) ListRules(ctx context.Context, projectID string) ([]*models.Rule, error) {
	return s.store.ListRules(ctx, projectID)
}

// UpdateRule applies the set fields of the request and reschedules the
// rule's evaluation.
func (s *RuleService) UpdateRule(ctx context.Context, id string, req *models.UpdateRuleRequest) (*models.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Backend != nil {
		rule.Backend = *req.Backend
	}
	if req.Spec != nil {
		rule.Spec = *req.Spec
	}
	if req.Severity != nil {
		rule.Severity = *req.Severity
	}
	if req.ChannelIDs != nil {
		rule.ChannelIDs = *req.ChannelIDs
	}
	if req.EscalationPolicyID != nil {
		rule.EscalationPolicyID = *req.EscalationPolicyID
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.EvaluationIntervalSeconds != nil {
		rule.EvaluationIntervalSeconds = *req.EvaluationIntervalSeconds
	}
	if req.PendingPeriodSeconds != nil {
		rule.PendingPeriodSeconds = *req.PendingPeriodSeconds
	}
	if req.ResolvePeriodSeconds != nil {
		rule.ResolvePeriodSeconds = *req.ResolvePeriodSeconds
	}
	rule.UpdatedAt = time.Now()

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	if s.scheduler != nil {
		s.scheduler.UnscheduleRule(rule.ID)
		if rule.Enabled {
			if err := s.scheduler.ScheduleRule(rule); err != nil {
				logrus.Errorf("Failed to reschedule rule %s: %v", rule.ID, err)
			}
		}
	}
	return rule, nil
}

// DeleteRule removes the rule and stops its evaluation
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	if s.scheduler != nil {
		s.scheduler.UnscheduleRule(id)
	}
	logrus.Infof("Deleted rule %s", id)
	return nil
}

// MuteRule suppresses the rule's notifications, optionally for a bounded
// duration. Evaluation keeps running; only delivery is gated.
func (s *RuleService) MuteRule(ctx context.Context, id string, req *models.MuteRuleRequest) (*models.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.Muted = true
	rule.MuteReason = req.Reason
	rule.MutedUntil = nil
	if req.DurationMinutes > 0 {
		until := time.Now().Add(time.Duration(req.DurationMinutes) * time.Minute)
		rule.MutedUntil = &until
	}
	rule.UpdatedAt = time.Now()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to mute rule: %w", err)
	}
	logrus.Infof("Muted rule %s (%s)", rule.ID, req.Reason)
	return rule, nil
}

// UnmuteRule clears the mute
func (s *RuleService) UnmuteRule(ctx context.Context, id string) (*models.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.Muted = false
	rule.MutedUntil = nil
	rule.MuteReason = ""
	rule.UpdatedAt = time.Now()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to unmute rule: %w", err)
	}
	return rule, nil
}
