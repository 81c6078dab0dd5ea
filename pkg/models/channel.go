package models

import (
	"fmt"
	"time"
)

// ChannelType tags the transport adapter a channel is delivered through
type ChannelType string

const (
	ChannelTypeWebhook  ChannelType = "webhook"
	ChannelTypeSlack    ChannelType = "slack"
	ChannelTypeEmail    ChannelType = "email"
	ChannelTypeTelegram ChannelType = "telegram"
)

// NotificationChannel is a named destination with opaque configuration.
// Secrets (tokens, SMTP passwords) live in the secret store, never here;
// the dispatcher treats the channel as a capability handle.
type NotificationChannel struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"projectId"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`

	Config  map[string]string `json:"config,omitempty"`
	Enabled bool              `json:"enabled"`

	VerifiedAt   *time.Time `json:"verifiedAt,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	SuccessCount int        `json:"successCount"`
	FailureCount int        `json:"failureCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects malformed channels before they are persisted
func (c *NotificationChannel) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: channel name is required", ErrInvalid)
	}
	switch c.Type {
	case ChannelTypeWebhook, ChannelTypeSlack, ChannelTypeEmail, ChannelTypeTelegram:
	default:
		return fmt.Errorf("%w: unknown channel type %q", ErrInvalid, c.Type)
	}
	return nil
}

// NotificationStatus is the delivery outcome recorded on the audit row
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusSkipped NotificationStatus = "skipped"
)

// NotificationKind distinguishes why a delivery happened
type NotificationKind string

const (
	NotificationKindFire       NotificationKind = "fire"
	NotificationKindResolve    NotificationKind = "resolve"
	NotificationKindEscalation NotificationKind = "escalation"
	NotificationKindTest       NotificationKind = "test"
)

// Notification is the audit record of one delivery attempt. Rows are
// append-only once created; the only permitted edit is the
// pending->sent/failed transition.
type Notification struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channelId"`
	RuleID     string `json:"ruleId,omitempty"`
	AlertID    string `json:"alertId,omitempty"`
	IncidentID string `json:"incidentId,omitempty"`

	Kind   NotificationKind   `json:"kind"`
	Status NotificationStatus `json:"status"`

	Payload    string `json:"payload,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
	Attempt    int    `json:"attempt"`

	CreatedAt time.Time  `json:"createdAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
}
