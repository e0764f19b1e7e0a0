package repository

import (
	"context"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/shopspring/decimal"
)

type LotRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Lot, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Lot, error)
	// ListApprovedForUpdate locks and returns the approved lots of an auction.
	ListApprovedForUpdate(ctx context.Context, auctionID int64) ([]models.Lot, error)
	UpdateStatus(ctx context.Context, id int64, status models.LotStatus) error
	MarkSold(ctx context.Context, id, winnerID int64, amount decimal.Decimal) error
}

type BidRepository interface {
	Create(ctx context.Context, bid *models.Bid) error
	// GetHighest returns nil without error when the lot has no bids.
	GetHighest(ctx context.Context, lotID int64) (*models.Bid, error)
	// ListByLot returns bids ordered by amount, highest first.
	ListByLot(ctx context.Context, lotID int64) ([]models.Bid, error)
	// ListByUser returns the user's bids, newest first.
	ListByUser(ctx context.Context, userID int64) ([]models.Bid, error)
	ListBidderIDs(ctx context.Context, auctionID int64) ([]int64, error)
}
