// Package notify delivers alert notifications through typed channels and
// gates them behind mutes, maintenance windows and rate limits. Every
// dispatch attempt leaves an audit row, including the ones that never
// reached a transport.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// Message is the rendered notification handed to a transport
type Message struct {
	Kind       models.NotificationKind `json:"kind"`
	Title      string                  `json:"title"`
	Body       string                  `json:"body"`
	Severity   models.Severity         `json:"severity"`
	RuleID     string                  `json:"ruleId,omitempty"`
	AlertID    string                  `json:"alertId,omitempty"`
	IncidentID string                  `json:"incidentId,omitempty"`
	Value      float64                 `json:"value,omitempty"`
	Threshold  float64                 `json:"threshold,omitempty"`
	Labels     map[string]string       `json:"labels,omitempty"`
	At         time.Time               `json:"at"`
}

// Transport delivers a message over one channel type. The returned
// string is the remote response recorded on the audit row.
type Transport interface {
	Type() models.ChannelType
	Send(ctx context.Context, channel *models.NotificationChannel, secrets map[string]string, msg *Message) (string, error)
}

// SecretStore resolves a channel's credentials at send time, keeping
// tokens and webhook URLs out of the channel records themselves.
type SecretStore interface {
	Get(ctx context.Context, channelID string) (map[string]string, error)
}

// StaticSecrets is a config-backed SecretStore
type StaticSecrets struct {
	secrets map[string]map[string]string
}

var _ SecretStore = (*StaticSecrets)(nil)

func NewStaticSecrets(secrets map[string]map[string]string) *StaticSecrets {
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	return &StaticSecrets{secrets: secrets}
}

func (s *StaticSecrets) Get(ctx context.Context, channelID string) (map[string]string, error) {
	return s.secrets[channelID], nil
}

// Transports routes a channel to its transport by type
type Transports struct {
	byType map[models.ChannelType]Transport
}

func NewTransports(transports ...Transport) *Transports {
	t := &Transports{byType: make(map[models.ChannelType]Transport)}
	for _, tr := range transports {
		t.byType[tr.Type()] = tr
	}
	return t
}

func (t *Transports) For(channelType models.ChannelType) (Transport, error) {
	tr, ok := t.byType[channelType]
	if !ok {
		return nil, fmt.Errorf("%w: no transport for channel type %q", models.ErrInvalid, channelType)
	}
	return tr, nil
}
