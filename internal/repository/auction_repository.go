package repository

import (
	"context"
	"time"

	"github.com/honeynil/charity-auction/internal/models"
)

type AuctionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	// ListDue returns ids of active auctions whose end time is not after now.
	ListDue(ctx context.Context, now time.Time) ([]int64, error)
	ListEndingBetween(ctx context.Context, from, to time.Time) ([]models.Auction, error)
	// ClaimForSettlement locks the auction if it is still active and due.
	// It returns nil without error when there is nothing to claim, either
	// because the auction was settled already or another worker holds it.
	ClaimForSettlement(ctx context.Context, id int64, now time.Time) (*models.Auction, error)
	UpdateStatus(ctx context.Context, id int64, status models.AuctionStatus) error
}

type TicketRepository interface {
	Exists(ctx context.Context, auctionID, userID int64) (bool, error)
	Create(ctx context.Context, ticket *models.AuctionTicket) error
}
