package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionCompleted AuctionStatus = "completed"
	AuctionCancelled AuctionStatus = "cancelled"
)

type Auction struct {
	ID            int64           `json:"id"`
	CharityUserID int64           `json:"charity_user_id"`
	Name          string          `json:"name"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        AuctionStatus   `json:"status"`
	IsPaid        bool            `json:"is_paid"`
	TicketPrice   decimal.Decimal `json:"ticket_price"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AcceptsBids reports whether bids may be placed at now.
func (a *Auction) AcceptsBids(now time.Time) bool {
	return a.Status == AuctionActive && now.Before(a.EndTime)
}

// Due reports whether the auction has ended and still waits for settlement.
func (a *Auction) Due(now time.Time) bool {
	return a.Status == AuctionActive && !a.EndTime.After(now)
}

type AuctionTicket struct {
	ID          int64     `json:"id"`
	AuctionID   int64     `json:"auction_id"`
	UserID      int64     `json:"user_id"`
	PurchasedAt time.Time `json:"purchased_at"`
}
