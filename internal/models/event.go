package models

import "time"

type EventType string

const (
	EventAuctionEnded    EventType = "auction_ended"
	EventBidPlaced       EventType = "bid_placed"
	EventLotSold         EventType = "lot_sold"
	EventLotNotSold      EventType = "lot_not_sold"
	EventTicketPurchased EventType = "ticket_purchased"
	EventLotModerated    EventType = "lot_moderated"
)

type AuctionEvent struct {
	ID        int64     `json:"id"`
	AuctionID int64     `json:"auction_id"`
	LotID     *int64    `json:"lot_id,omitempty"`
	Type      EventType `json:"event_type"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	Dispatched bool      `json:"dispatched"`
	CreatedAt  time.Time `json:"created_at"`
}
