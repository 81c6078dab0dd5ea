package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// DeliveryError marks a transport failure that is worth retrying
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to channel %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// WebhookTransport POSTs the message as JSON to the channel's url. A
// bearer token secret is attached when present.
type WebhookTransport struct {
	client *http.Client
}

var _ Transport = (*WebhookTransport)(nil)

func NewWebhookTransport() *WebhookTransport {
	return &WebhookTransport{client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *WebhookTransport) Type() models.ChannelType { return models.ChannelTypeWebhook }

func (t *WebhookTransport) Send(ctx context.Context, channel *models.NotificationChannel, secrets map[string]string, msg *Message) (string, error) {
	url := secrets["url"]
	if url == "" {
		url = channel.Config["url"]
	}
	if url == "" {
		return "", fmt.Errorf("%w: webhook channel %s has no url", models.ErrInvalid, channel.ID)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := secrets["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return t.do(req, channel.ID)
}

func (t *WebhookTransport) do(req *http.Request, channelID string) (string, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return "", &DeliveryError{Channel: channelID, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(respBody), &DeliveryError{
			Channel: channelID,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return string(respBody), nil
}

// SlackTransport posts the message to a Slack incoming webhook
type SlackTransport struct {
	client *http.Client
}

var _ Transport = (*SlackTransport)(nil)

func NewSlackTransport() *SlackTransport {
	return &SlackTransport{client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *SlackTransport) Type() models.ChannelType { return models.ChannelTypeSlack }

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return ":red_circle:"
	case models.SeverityWarning:
		return ":large_yellow_circle:"
	default:
		return ":large_blue_circle:"
	}
}

func (t *SlackTransport) Send(ctx context.Context, channel *models.NotificationChannel, secrets map[string]string, msg *Message) (string, error) {
	url := secrets["webhook_url"]
	if url == "" {
		url = channel.Config["webhook_url"]
	}
	if url == "" {
		return "", fmt.Errorf("%w: slack channel %s has no webhook_url", models.ErrInvalid, channel.ID)
	}

	text := fmt.Sprintf("%s *%s*\n%s", severityEmoji(msg.Severity), msg.Title, msg.Body)
	if msg.Kind == models.NotificationKindResolve {
		text = fmt.Sprintf(":large_green_circle: *%s*\n%s", msg.Title, msg.Body)
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	sender := &WebhookTransport{client: t.client}
	return sender.do(req, channel.ID)
}
