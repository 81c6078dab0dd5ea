package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// TelegramTransport sends messages through the Telegram bot API. The bot
// token is a secret; the target chat id lives on the channel config.
type TelegramTransport struct {
	// newBot is swappable in tests
	newBot func(token string) (telegramSender, error)
}

type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botMessage, error)
}

// botMessage narrows the bot API return type to what we use
type botMessage = struct{ ID int }

type realBot struct{ b *bot.Bot }

func (r *realBot) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botMessage, error) {
	m, err := r.b.SendMessage(ctx, params)
	if err != nil {
		return nil, err
	}
	return &botMessage{ID: m.ID}, nil
}

var _ Transport = (*TelegramTransport)(nil)

func NewTelegramTransport() *TelegramTransport {
	return &TelegramTransport{
		newBot: func(token string) (telegramSender, error) {
			b, err := bot.New(token)
			if err != nil {
				return nil, err
			}
			return &realBot{b: b}, nil
		},
	}
}

func (t *TelegramTransport) Type() models.ChannelType { return models.ChannelTypeTelegram }

func (t *TelegramTransport) Send(ctx context.Context, channel *models.NotificationChannel, secrets map[string]string, msg *Message) (string, error) {
	token := secrets["bot_token"]
	if token == "" {
		return "", fmt.Errorf("%w: telegram channel %s has no bot_token secret", models.ErrInvalid, channel.ID)
	}
	chatID, err := strconv.ParseInt(channel.Config["chat_id"], 10, 64)
	if err != nil || chatID == 0 {
		return "", fmt.Errorf("%w: telegram channel %s has no valid chat_id", models.ErrInvalid, channel.ID)
	}

	b, err := t.newBot(token)
	if err != nil {
		return "", &DeliveryError{Channel: channel.ID, Err: fmt.Errorf("failed to initialize bot: %w", err)}
	}

	text := fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body)
	sent, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return "", &DeliveryError{Channel: channel.ID, Err: err}
	}
	return fmt.Sprintf("message %d", sent.ID), nil
}
