package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LotStatus string

const (
	LotPending  LotStatus = "pending"
	LotApproved LotStatus = "approved"
	LotRejected LotStatus = "rejected"
	LotSold     LotStatus = "sold"
	LotNotSold  LotStatus = "not_sold"
)

// Final reports whether the lot was already resolved by settlement.
func (s LotStatus) Final() bool {
	return s == LotSold || s == LotNotSold
}

type Lot struct {
	ID               int64               `json:"id"`
	AuctionID        int64               `json:"auction_id"`
	DonorID          int64               `json:"donor_id"`
	Title            string              `json:"title"`
	StartingPrice    decimal.Decimal     `json:"starting_price"`
	Status           LotStatus           `json:"status"`
	WinnerID         *int64              `json:"winner_id,omitempty"`
	WinningBidAmount decimal.NullDecimal `json:"winning_bid_amount"`
	CreatedAt        time.Time           `json:"created_at"`
}
