package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is immutable once stored. Outbid bids are kept; their funds are
// returned through a refund ledger entry.
type Bid struct {
	ID        int64           `json:"id"`
	LotID     int64           `json:"lot_id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
