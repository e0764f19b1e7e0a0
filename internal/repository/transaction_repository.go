package repository

import (
	"context"
	"time"

	"github.com/honeynil/charity-auction/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status models.StatusType) error
}

type DeliveryRepository interface {
	GetByTransaction(ctx context.Context, transactionID int64) (*models.DeliveryDetail, error)
	Upsert(ctx context.Context, delivery *models.DeliveryDetail) error
	UpdateStatus(ctx context.Context, transactionID int64, status models.DeliveryStatus, deliveredAt *time.Time) error
}

type EventRepository interface {
	Create(ctx context.Context, event *models.AuctionEvent) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	MarkDispatched(ctx context.Context, id int64) error
}
