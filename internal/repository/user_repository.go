package repository

import (
	"context"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/shopspring/decimal"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type BalanceRepository interface {
	Get(ctx context.Context, userID int64) (*models.Balance, error)
	// GetForUpdate reads the balance and locks its row for the rest of the
	// enclosing transaction.
	GetForUpdate(ctx context.Context, userID int64) (*models.Balance, error)
	SetAmount(ctx context.Context, userID int64, amount decimal.Decimal) error
}

type LedgerEntryRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	HasRefund(ctx context.Context, bidID int64) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]models.LedgerEntry, error)
}
