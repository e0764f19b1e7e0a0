package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeynil/charity-auction/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

type EventRepository struct {
	db DBTX
}

func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *models.AuctionEvent) (err error) {
	ctx, done := instrument(ctx, "event-repository", "CreateAuctionEvent", attribute.String("event_type", string(event.Type)))
	defer done(&err)

	query := `INSERT INTO auction_events (auction_id, lot_id, event_type, details) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, event.AuctionID, event.LotID, event.Type, event.Details).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		slog.Error("failed to create auction event", "method", "Create", "auction_id", event.AuctionID, "type", event.Type, "error", err)
		return fmt.Errorf("failed to create auction event: %w", err)
	}
	return nil
}

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (err error) {
	ctx, done := instrument(ctx, "notification-repository", "CreateNotification", attribute.Int64("user_id", n.UserID))
	defer done(&err)

	query := `INSERT INTO notifications (user_id, subject, message) VALUES ($1, $2, $3) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, n.UserID, n.Subject, n.Message).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		slog.Error("failed to create notification", "method", "Create", "user_id", n.UserID, "error", err)
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) MarkDispatched(ctx context.Context, id int64) (err error) {
	ctx, done := instrument(ctx, "notification-repository", "MarkNotificationDispatched", attribute.Int64("notification_id", id))
	defer done(&err)

	if _, err = r.db.ExecContext(ctx, `UPDATE notifications SET dispatched = TRUE WHERE id = $1`, id); err != nil {
		slog.Error("failed to mark notification dispatched", "method", "MarkDispatched", "notification_id", id, "error", err)
		return fmt.Errorf("failed to mark notification dispatched: %w", err)
	}
	return nil
}
