package service

import (
	"context"
	"log/slog"

	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// outbox collects events and notifications stored inside a unit of work so
// they can be published once it commits.
type outbox struct {
	events        []models.AuctionEvent
	notifications []models.Notification
}

func (o *outbox) record(ctx context.Context, tx repository.Tx, event models.AuctionEvent) error {
	if err := tx.Events().Create(ctx, &event); err != nil {
		return err
	}
	o.events = append(o.events, event)
	return nil
}

func (o *outbox) notify(ctx context.Context, tx repository.Tx, userID int64, subject, message string) error {
	n := models.Notification{UserID: userID, Subject: subject, Message: message}
	if err := tx.Notifications().Create(ctx, &n); err != nil {
		return err
	}
	o.notifications = append(o.notifications, n)
	return nil
}

// publish sends everything collected. The rows are already committed, so
// failures are only logged; undispatched notifications stay in the table.
func (o *outbox) publish(ctx context.Context, publisher kafka.Publisher) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range o.events {
		if err := publisher.PublishEvent(ctx, e); err != nil {
			slog.Error("failed to publish auction event", "event_id", e.ID, "type", e.Type, "error", err)
		}
	}
	for _, n := range o.notifications {
		if err := publisher.PublishNotification(ctx, n); err != nil {
			slog.Error("failed to publish notification", "notification_id", n.ID, "user_id", n.UserID, "error", err)
		}
	}
}

// invalidateBalances runs after commit. The version bump comes before the
// delete so that a fill racing with it is either refused or deleted.
func invalidateBalances(ctx context.Context, redisClient redis.RedisClient, userIDs ...int64) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range userIDs {
		if _, err := redisClient.Incr(ctx, redis.BalanceVersionKey(id), balanceVersionTTL); err != nil {
			slog.Error("failed to bump balance version", "user_id", id, "error", err)
		}
		if err := redisClient.Del(ctx, redis.BalanceKey(id)); err != nil {
			slog.Error("failed to invalidate cached balance", "user_id", id, "error", err)
		}
	}
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

func lotRef(id int64) *int64 { return &id }
