package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/segmentio/kafka-go"
)

//go:generate mockgen -source=producer.go -destination=mocks/mock_producer.go -package=mocks

// Publisher fans committed auction events and user notifications out to
// Kafka. Publishing happens after the database commit, so a failure never
// undoes a state change.
type Publisher interface {
	PublishEvent(ctx context.Context, event models.AuctionEvent) error
	PublishNotification(ctx context.Context, n models.Notification) error
	Close() error
}

type Producer struct {
	writer             *kafka.Writer
	eventsTopic        string
	notificationsTopic string
}

func NewProducer(brokers []string, eventsTopic, notificationsTopic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{
		writer:             writer,
		eventsTopic:        eventsTopic,
		notificationsTopic: notificationsTopic,
	}
}

// PublishEvent keys events by auction so that one auction's events stay
// ordered within a partition.
func (p *Producer) PublishEvent(ctx context.Context, event models.AuctionEvent) error {
	return p.send(ctx, p.eventsTopic, event.AuctionID, event)
}

func (p *Producer) PublishNotification(ctx context.Context, n models.Notification) error {
	return p.send(ctx, p.notificationsTopic, n.UserID, n)
}

func (p *Producer) send(ctx context.Context, topic string, key int64, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%d", key)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(uuid.NewString())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	slog.Debug("Kafka message sent", "topic", topic, "key", key)
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}
