package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBidTooLow          = errors.New("bid amount too low")
	ErrLotNotApproved     = errors.New("lot is not approved")
	ErrAuctionNotActive   = errors.New("auction is not active")
	ErrSelfBidForbidden   = errors.New("donor cannot bid on own lot")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrAlreadyPaid        = errors.New("transaction already paid")
	ErrAuctionFree        = errors.New("auction does not require a ticket")
	ErrTicketAlreadyOwned = errors.New("ticket already purchased")

	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrSettlementInProgress    = errors.New("settlement already in progress")

	// ErrInvariantViolation marks failures that cannot happen while the
	// ledger invariants hold, e.g. an outbid refund being rejected.
	ErrInvariantViolation = errors.New("ledger invariant violated")

	ErrNilBid         = errors.New("bid is nil")
	ErrNilTransaction = errors.New("transaction is nil")
	ErrInvalidInput   = fmt.Errorf("invalid input")
)

// Not-found variants all match ErrNotFound with errors.Is.
var (
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrBalanceNotFound     = fmt.Errorf("balance %w", ErrNotFound)
	ErrLotNotFound         = fmt.Errorf("lot %w", ErrNotFound)
	ErrAuctionNotFound     = fmt.Errorf("auction %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrDeliveryNotFound    = fmt.Errorf("delivery %w", ErrNotFound)
)
