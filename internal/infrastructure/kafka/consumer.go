package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	"github.com/segmentio/kafka-go"
)

// Sender delivers a notification to its recipient.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// LogSender writes notifications to the structured log. Email delivery is
// handled outside this service.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n models.Notification) error {
	slog.Info("notification delivered", "notification_id", n.ID, "user_id", n.UserID, "subject", n.Subject)
	return nil
}

// Consumer reads the notifications topic, hands every notification to a
// Sender and marks it dispatched.
type Consumer struct {
	reader        *kafka.Reader
	sender        Sender
	notifications repository.NotificationRepository
}

func NewConsumer(brokers []string, topic, groupID string, sender Sender, notifications repository.NotificationRepository) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		sender:        sender,
		notifications: notifications,
	}
}

// Consume blocks until ctx is cancelled. Malformed or failing messages are
// logged and skipped.
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			slog.Error("failed to handle notification", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset, "error", err)
		}
	}
}

var errMalformedNotification = stderrors.New("malformed notification")

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var n models.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("%w: %v", errMalformedNotification, err)
	}
	if n.ID == 0 || n.UserID == 0 {
		return fmt.Errorf("%w: missing id or user_id", errMalformedNotification)
	}
	if n.Dispatched {
		return nil
	}

	if err := c.sender.Send(ctx, n); err != nil {
		return fmt.Errorf("failed to send notification %d: %w", n.ID, err)
	}
	if err := c.notifications.MarkDispatched(ctx, n.ID); err != nil {
		return fmt.Errorf("failed to mark notification %d dispatched: %w", n.ID, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
