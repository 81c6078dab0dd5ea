package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/maintenance"
	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// Request is one notification to deliver
type Request struct {
	ChannelID string
	Kind      models.NotificationKind
	Rule      *models.Rule
	Alert     *models.Alert
	Incident  *models.Incident
	Attempt   int
}

// Dispatcher gates and delivers notifications. Suppression (disabled
// channel, mute, maintenance, rate limit) produces a skipped audit row
// and no error; a transport failure produces a failed row and a
// DeliveryError so the caller can retry.
type Dispatcher struct {
	store      store.Store
	transports *Transports
	secrets    SecretStore
	limiter    *RateLimiter
	gate       *maintenance.Gate
	Now        func() time.Time
}

func NewDispatcher(st store.Store, transports *Transports, secrets SecretStore, limiter *RateLimiter, gate *maintenance.Gate) *Dispatcher {
	return &Dispatcher{
		store:      st,
		transports: transports,
		secrets:    secrets,
		limiter:    limiter,
		gate:       gate,
		Now:        time.Now,
	}
}

// Dispatch delivers one notification and records the outcome
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*models.Notification, error) {
	channel, err := d.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}

	if reason, err := d.suppressionReason(ctx, req, channel); err != nil {
		return nil, err
	} else if reason != "" {
		return d.recordSkip(ctx, req, channel, reason)
	}

	msg := d.render(req)
	n := &models.Notification{
		ID:        uuid.New().String(),
		ChannelID: channel.ID,
		Kind:      req.Kind,
		Status:    models.NotificationStatusPending,
		Payload:   msg.Body,
		Attempt:   req.Attempt,
		CreatedAt: d.Now(),
	}
	if req.Rule != nil {
		n.RuleID = req.Rule.ID
	}
	if req.Alert != nil {
		n.AlertID = req.Alert.ID
		n.IncidentID = req.Alert.IncidentID
	}
	if req.Incident != nil {
		n.IncidentID = req.Incident.ID
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to record notification: %w", err)
	}

	response, sendErr := d.deliver(ctx, channel, msg)
	now := d.Now()
	if sendErr != nil {
		n.Status = models.NotificationStatusFailed
		n.Error = sendErr.Error()
		if uerr := d.store.UpdateNotification(ctx, n); uerr != nil {
			logrus.Errorf("Failed to record delivery failure for notification %s: %v", n.ID, uerr)
		}
		d.bumpChannelCounters(ctx, channel, false)
		return n, sendErr
	}

	n.Status = models.NotificationStatusSent
	n.Response = response
	n.SentAt = &now
	if err := d.store.UpdateNotification(ctx, n); err != nil {
		logrus.Errorf("Failed to record delivery for notification %s: %v", n.ID, err)
	}
	d.bumpChannelCounters(ctx, channel, true)
	logrus.Infof("Delivered %s notification %s via channel %s", n.Kind, n.ID, channel.ID)
	return n, nil
}

// Test sends a probe through the channel without gating or audit rows,
// stamping VerifiedAt on success.
func (d *Dispatcher) Test(ctx context.Context, channelID string) (string, error) {
	channel, err := d.store.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}

	msg := &Message{
		Kind:     models.NotificationKindTest,
		Title:    fmt.Sprintf("Test notification for channel %s", channel.Name),
		Body:     "This is a test notification. If you can read this, the channel works.",
		Severity: models.SeverityInfo,
		At:       d.Now(),
	}
	response, err := d.deliver(ctx, channel, msg)
	if err != nil {
		return "", err
	}

	now := d.Now()
	channel.VerifiedAt = &now
	channel.UpdatedAt = now
	if err := d.store.UpdateChannel(ctx, channel); err != nil {
		logrus.Warnf("Failed to stamp verification on channel %s: %v", channel.ID, err)
	}
	return response, nil
}

func (d *Dispatcher) suppressionReason(ctx context.Context, req *Request, channel *models.NotificationChannel) (string, error) {
	if !channel.Enabled {
		return "channel disabled", nil
	}
	if req.Rule == nil {
		return "", nil
	}
	if req.Rule.MutedAt(d.Now()) {
		return "rule muted", nil
	}
	suppressed, window, err := d.gate.Suppressed(ctx, req.Rule.ProjectID, req.Rule.ID)
	if err != nil {
		return "", err
	}
	if suppressed {
		return fmt.Sprintf("maintenance window %q", window), nil
	}
	allowed, reason, err := d.limiter.Allow(ctx, channel.ID, req.Rule.ID, req.Rule.ProjectID)
	if err != nil {
		return "", err
	}
	if !allowed {
		return reason, nil
	}
	return "", nil
}

func (d *Dispatcher) recordSkip(ctx context.Context, req *Request, channel *models.NotificationChannel, reason string) (*models.Notification, error) {
	n := &models.Notification{
		ID:         uuid.New().String(),
		ChannelID:  channel.ID,
		Kind:       req.Kind,
		Status:     models.NotificationStatusSkipped,
		SkipReason: reason,
		Attempt:    req.Attempt,
		CreatedAt:  d.Now(),
	}
	if req.Rule != nil {
		n.RuleID = req.Rule.ID
	}
	if req.Alert != nil {
		n.AlertID = req.Alert.ID
		n.IncidentID = req.Alert.IncidentID
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to record skipped notification: %w", err)
	}
	logrus.Debugf("Skipped notification via channel %s: %s", channel.ID, reason)
	return n, nil
}

func (d *Dispatcher) deliver(ctx context.Context, channel *models.NotificationChannel, msg *Message) (string, error) {
	transport, err := d.transports.For(channel.Type)
	if err != nil {
		return "", err
	}
	secrets, err := d.secrets.Get(ctx, channel.ID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve channel secrets: %w", err)
	}
	return transport.Send(ctx, channel, secrets, msg)
}

func (d *Dispatcher) bumpChannelCounters(ctx context.Context, channel *models.NotificationChannel, success bool) {
	now := d.Now()
	channel.LastUsedAt = &now
	if success {
		channel.SuccessCount++
	} else {
		channel.FailureCount++
	}
	channel.UpdatedAt = now
	if err := d.store.UpdateChannel(ctx, channel); err != nil {
		logrus.Warnf("Failed to update counters on channel %s: %v", channel.ID, err)
	}
}

func (d *Dispatcher) render(req *Request) *Message {
	msg := &Message{
		Kind: req.Kind,
		At:   d.Now(),
	}
	if req.Rule != nil {
		msg.Severity = req.Rule.Severity
		msg.RuleID = req.Rule.ID
	}
	if req.Alert != nil {
		msg.AlertID = req.Alert.ID
		msg.IncidentID = req.Alert.IncidentID
		msg.Value = req.Alert.Value
		msg.Threshold = req.Alert.Threshold
		msg.Labels = req.Alert.Labels
	}

	name := "alert"
	if req.Rule != nil {
		name = req.Rule.Name
	}
	switch req.Kind {
	case models.NotificationKindResolve:
		msg.Title = fmt.Sprintf("Resolved: %s", name)
		msg.Body = fmt.Sprintf("%s has recovered.", name)
	case models.NotificationKindEscalation:
		msg.Title = fmt.Sprintf("Escalation: %s", name)
		msg.Body = fmt.Sprintf("%s is still firing and unacknowledged.", name)
		if req.Alert != nil {
			msg.Body += fmt.Sprintf(" Current value %.4g (threshold %.4g).", req.Alert.Value, req.Alert.Threshold)
		}
	default:
		msg.Title = fmt.Sprintf("Firing: %s", name)
		if req.Alert != nil {
			msg.Body = fmt.Sprintf("%s fired with value %.4g (threshold %.4g).", name, req.Alert.Value, req.Alert.Threshold)
		} else {
			msg.Body = fmt.Sprintf("%s fired.", name)
		}
	}
	return msg
}
