package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryTopUp            EntryKind = "top_up"
	EntryBidHold          EntryKind = "bid_hold"
	EntryOutbidRefund     EntryKind = "outbid_refund"
	EntrySettlementRefund EntryKind = "settlement_refund"
	EntryTicket           EntryKind = "ticket"
)

// IsRefund reports whether the entry returns escrowed bid funds.
func (k EntryKind) IsRefund() bool {
	return k == EntryOutbidRefund || k == EntrySettlementRefund
}

// LedgerEntry is one balance mutation. Amount is signed: credits are
// positive, debits negative.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Kind      EntryKind       `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	BidID     *int64          `json:"bid_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
