package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/notify"
	"github.com/brainz-lab/signal-sub000/pkg/oncall"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// ChannelService manages notification channels and channel probes
type ChannelService struct {
	store      store.Store
	dispatcher *notify.Dispatcher
}

// NewChannelService creates a channel service. The dispatcher may be nil
// in tests that never send probes.
func NewChannelService(st store.Store, dispatcher *notify.Dispatcher) *ChannelService {
	return &ChannelService{store: st, dispatcher: dispatcher}
}

func (s *ChannelService) CreateChannel(ctx context.Context, channel *models.NotificationChannel) (*models.NotificationChannel, error) {
	if err := channel.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	channel.ID = uuid.New().String()
	channel.Enabled = true
	channel.CreatedAt = now
	channel.UpdatedAt = now
	if err := s.store.CreateChannel(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	logrus.Infof("Created %s channel %s (%s)", channel.Type, channel.ID, channel.Name)
	return channel, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error) {
	return s.store.GetChannel(ctx, id)
}

func (s *ChannelService) ListChannels(ctx context.Context, projectID string) ([]*models.NotificationChannel, error) {
	return s.store.ListChannels(ctx, projectID)
}

// UpdateChannel replaces the mutable fields of a channel. Delivery
// counters and verification stamps are owned by the dispatcher.
func (s *ChannelService) UpdateChannel(ctx context.Context, id string, update *models.NotificationChannel) (*models.NotificationChannel, error) {
	channel, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != "" {
		channel.Name = update.Name
	}
	if update.Type != "" {
		channel.Type = update.Type
	}
	if update.Config != nil {
		channel.Config = update.Config
	}
	channel.Enabled = update.Enabled
	channel.UpdatedAt = time.Now()
	if err := channel.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateChannel(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to update channel: %w", err)
	}
	return channel, nil
}

func (s *ChannelService) DeleteChannel(ctx context.Context, id string) error {
	if err := s.store.DeleteChannel(ctx, id); err != nil {
		return err
	}
	logrus.Infof("Deleted channel %s", id)
	return nil
}

// TestChannel sends a probe notification through the channel's transport
func (s *ChannelService) TestChannel(ctx context.Context, id string) (string, error) {
	if s.dispatcher == nil {
		return "", fmt.Errorf("%w: channel testing is not configured", models.ErrInvalid)
	}
	return s.dispatcher.Test(ctx, id)
}

// PolicyService manages escalation policies
type PolicyService struct {
	store store.Store
}

func NewPolicyService(st store.Store) *PolicyService {
	return &PolicyService{store: st}
}

func (s *PolicyService) CreatePolicy(ctx context.Context, policy *models.EscalationPolicy) (*models.EscalationPolicy, error) {
	if err := s.validatePolicy(ctx, policy); err != nil {
		return nil, err
	}
	now := time.Now()
	policy.ID = uuid.New().String()
	policy.CreatedAt = now
	policy.UpdatedAt = now
	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	logrus.Infof("Created escalation policy %s (%s)", policy.ID, policy.Name)
	return policy, nil
}

func (s *PolicyService) validatePolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	for _, step := range policy.Steps {
		for _, chID := range step.ChannelIDs {
			if _, err := s.store.GetChannel(ctx, chID); err != nil {
				return fmt.Errorf("%w: channel %s does not exist", models.ErrInvalid, chID)
			}
		}
	}
	return nil
}

func (s *PolicyService) GetPolicy(ctx context.Context, id string) (*models.EscalationPolicy, error) {
	return s.store.GetPolicy(ctx, id)
}

func (s *PolicyService) ListPolicies(ctx context.Context, projectID string) ([]*models.EscalationPolicy, error) {
	return s.store.ListPolicies(ctx, projectID)
}

func (s *PolicyService) UpdatePolicy(ctx context.Context, id string, update *models.EscalationPolicy) (*models.EscalationPolicy, error) {
	policy, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != "" {
		policy.Name = update.Name
	}
	if update.Steps != nil {
		policy.Steps = update.Steps
	}
	policy.Repeat = update.Repeat
	policy.RepeatAfterMinutes = update.RepeatAfterMinutes
	policy.MaxRepeats = update.MaxRepeats
	policy.UpdatedAt = time.Now()
	if err := s.validatePolicy(ctx, policy); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}
	return policy, nil
}

func (s *PolicyService) DeletePolicy(ctx context.Context, id string) error {
	return s.store.DeletePolicy(ctx, id)
}

// MaintenanceService manages maintenance windows
type MaintenanceService struct {
	store store.Store
}

func NewMaintenanceService(st store.Store) *MaintenanceService {
	return &MaintenanceService{store: st}
}

func (s *MaintenanceService) CreateWindow(ctx context.Context, w *models.MaintenanceWindow) (*models.MaintenanceWindow, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	w.ID = uuid.New().String()
	w.Active = true
	w.CreatedAt = now
	w.UpdatedAt = now
	if err := s.store.CreateWindow(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create maintenance window: %w", err)
	}
	logrus.Infof("Created maintenance window %s (%s)", w.ID, w.Name)
	return w, nil
}

func (s *MaintenanceService) GetWindow(ctx context.Context, id string) (*models.MaintenanceWindow, error) {
	return s.store.GetWindow(ctx, id)
}

func (s *MaintenanceService) ListActiveWindows(ctx context.Context, projectID string) ([]*models.MaintenanceWindow, error) {
	return s.store.ListActiveWindows(ctx, projectID)
}

func (s *MaintenanceService) UpdateWindow(ctx context.Context, id string, update *models.MaintenanceWindow) (*models.MaintenanceWindow, error) {
	w, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != "" {
		w.Name = update.Name
	}
	if !update.StartsAt.IsZero() {
		w.StartsAt = update.StartsAt
	}
	if !update.EndsAt.IsZero() {
		w.EndsAt = update.EndsAt
	}
	w.RuleIDs = update.RuleIDs
	w.Recurrence = update.Recurrence
	w.Active = update.Active
	w.UpdatedAt = time.Now()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateWindow(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update maintenance window: %w", err)
	}
	return w, nil
}

func (s *MaintenanceService) DeleteWindow(ctx context.Context, id string) error {
	return s.store.DeleteWindow(ctx, id)
}

// OnCallService manages on-call schedules and answers who is on call now
type OnCallService struct {
	store    store.Store
	resolver *oncall.Resolver
}

func NewOnCallService(st store.Store, resolver *oncall.Resolver) *OnCallService {
	return &OnCallService{store: st, resolver: resolver}
}

func (s *OnCallService) CreateSchedule(ctx context.Context, schedule *models.OnCallSchedule) (*models.OnCallSchedule, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	schedule.ID = uuid.New().String()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	if err := s.store.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	logrus.Infof("Created on-call schedule %s (%s)", schedule.ID, schedule.Name)
	return schedule, nil
}

func (s *OnCallService) GetSchedule(ctx context.Context, id string) (*models.OnCallSchedule, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *OnCallService) ListSchedules(ctx context.Context, projectID string) ([]*models.OnCallSchedule, error) {
	return s.store.ListSchedules(ctx, projectID)
}

func (s *OnCallService) UpdateSchedule(ctx context.Context, id string, update *models.OnCallSchedule) (*models.OnCallSchedule, error) {
	schedule, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != "" {
		schedule.Name = update.Name
	}
	if update.Weekly != nil {
		schedule.Weekly = update.Weekly
	}
	if update.Members != nil {
		schedule.Members = update.Members
	}
	if update.Kind != "" {
		schedule.Kind = update.Kind
	}
	if update.RotationDays != 0 {
		schedule.RotationDays = update.RotationDays
	}
	if !update.RotationStart.IsZero() {
		schedule.RotationStart = update.RotationStart
	}
	// rotation change invalidates the cached shift
	schedule.CurrentOnCall = ""
	schedule.CurrentShiftStart = nil
	schedule.CurrentShiftEnd = nil
	schedule.UpdatedAt = time.Now()
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	return schedule, nil
}

func (s *OnCallService) DeleteSchedule(ctx context.Context, id string) error {
	return s.store.DeleteSchedule(ctx, id)
}

// CurrentShift answers who is on call right now for the schedule
func (s *OnCallService) CurrentShift(ctx context.Context, id string) (*oncall.Shift, error) {
	return s.resolver.Resolve(ctx, id)
}
