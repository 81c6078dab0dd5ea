package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/config"
	"github.com/brainz-lab/signal-sub000/pkg/queue"
	"github.com/brainz-lab/signal-sub000/pkg/services"
)

// TriggerMessage is the wire format of an external evaluation trigger
type TriggerMessage struct {
	RuleID string `json:"ruleId"`
}

// messageReader is the slice of kafka.Reader the consumer needs
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads trigger messages from Kafka and enqueues an immediate
// evaluation for the named rule, independent of its cron cadence.
type Consumer struct {
	reader messageReader
	queue  *queue.Queue
}

// NewConsumer builds the trigger consumer. Returns nil when no brokers
// are configured; callers treat a nil consumer as disabled.
func NewConsumer(cfg config.KafkaConfig, q *queue.Queue) *Consumer {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, queue: q}
}

// Run consumes until the context is cancelled. Malformed messages are
// logged and dropped; read errors back off briefly instead of spinning.
func (c *Consumer) Run(ctx context.Context) {
	logrus.Info("Trigger consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logrus.Errorf("Failed to read trigger message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var trigger TriggerMessage
		if err := json.Unmarshal(msg.Value, &trigger); err != nil {
			logrus.Warnf("Dropping malformed trigger message at offset %d: %v", msg.Offset, err)
			continue
		}
		if trigger.RuleID == "" {
			logrus.Warnf("Dropping trigger message without ruleId at offset %d", msg.Offset)
			continue
		}

		payload := &services.EvaluatePayload{RuleID: trigger.RuleID}
		if _, err := c.queue.Enqueue(services.TaskEvaluateRule, payload, 0); err != nil {
			logrus.Errorf("Failed to enqueue triggered evaluation of rule %s: %v", trigger.RuleID, err)
			continue
		}
		logrus.Debugf("Triggered evaluation of rule %s from offset %d", trigger.RuleID, msg.Offset)
	}
}

// Close releases the underlying Kafka reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close trigger consumer: %w", err)
	}
	return nil
}
