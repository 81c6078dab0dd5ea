package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// SMTPSettings is the shared mail relay configuration
type SMTPSettings struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
}

// EmailTransport sends plain-text mail through a shared SMTP relay. The
// recipient list lives on the channel config ("to", comma separated).
type EmailTransport struct {
	settings SMTPSettings
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Transport = (*EmailTransport)(nil)

func NewEmailTransport(settings SMTPSettings) *EmailTransport {
	return &EmailTransport{settings: settings, send: smtp.SendMail}
}

func (t *EmailTransport) Type() models.ChannelType { return models.ChannelTypeEmail }

func (t *EmailTransport) Send(ctx context.Context, channel *models.NotificationChannel, secrets map[string]string, msg *Message) (string, error) {
	to := channel.Config["to"]
	if to == "" {
		return "", fmt.Errorf("%w: email channel %s has no recipients", models.ErrInvalid, channel.ID)
	}
	if t.settings.Server == "" || t.settings.Port == 0 {
		return "", fmt.Errorf("%w: smtp relay is not configured", models.ErrInvalid)
	}

	recipients := strings.Split(to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Severity)), msg.Title)
	body := fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\n\n%s\n",
		subject, t.settings.From, to, msg.Body)

	auth := smtp.PlainAuth("", t.settings.Username, t.settings.Password, t.settings.Server)
	addr := fmt.Sprintf("%s:%d", t.settings.Server, t.settings.Port)
	if err := t.send(addr, auth, t.settings.From, recipients, []byte(body)); err != nil {
		return "", &DeliveryError{Channel: channel.ID, Err: err}
	}
	return fmt.Sprintf("delivered to %d recipients", len(recipients)), nil
}
