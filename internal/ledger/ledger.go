// Package ledger owns every change to user balances. Balances are never
// negative and every change leaves a journal entry behind.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
)

func ApplyCredit(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return balance, pkgerrors.ErrInvalidAmount
	}
	return balance.Add(amount), nil
}

func ApplyDebit(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return balance, pkgerrors.ErrInvalidAmount
	}
	if balance.LessThan(amount) {
		return balance, pkgerrors.ErrInsufficientFunds
	}
	return balance.Sub(amount), nil
}

// Reason describes why a balance changes. BidID links holds and refunds to
// the bid they belong to.
type Reason struct {
	Kind  models.EntryKind
	BidID *int64
}

func ForBid(kind models.EntryKind, bidID int64) Reason {
	return Reason{Kind: kind, BidID: &bidID}
}

// Credit adds amount to the user's balance inside tx. The balance row stays
// locked until tx ends.
func Credit(ctx context.Context, tx repository.Tx, userID int64, amount decimal.Decimal, reason Reason) (decimal.Decimal, error) {
	return mutate(ctx, tx, userID, amount, reason, ApplyCredit, amount)
}

// Debit subtracts amount from the user's balance inside tx. It fails with
// ErrInsufficientFunds and leaves the balance untouched when the balance is
// smaller than amount.
func Debit(ctx context.Context, tx repository.Tx, userID int64, amount decimal.Decimal, reason Reason) (decimal.Decimal, error) {
	return mutate(ctx, tx, userID, amount, reason, ApplyDebit, amount.Neg())
}

func mutate(
	ctx context.Context,
	tx repository.Tx,
	userID int64,
	amount decimal.Decimal,
	reason Reason,
	apply func(balance, amount decimal.Decimal) (decimal.Decimal, error),
	signed decimal.Decimal,
) (decimal.Decimal, error) {
	balance, err := tx.Balances().GetForUpdate(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	updated, err := apply(balance.Amount, amount)
	if err != nil {
		slog.Warn("ledger mutation rejected",
			"user_id", userID,
			"kind", reason.Kind,
			"amount", amount.String(),
			"balance", balance.Amount.String(),
			"error", err,
		)
		return balance.Amount, err
	}

	if err := tx.Balances().SetAmount(ctx, userID, updated); err != nil {
		return balance.Amount, fmt.Errorf("failed to store balance: %w", err)
	}

	entry := &models.LedgerEntry{UserID: userID, Kind: reason.Kind, Amount: signed, BidID: reason.BidID}
	if err := tx.Entries().Append(ctx, entry); err != nil {
		return balance.Amount, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	observability.LedgerMutations.WithLabelValues(string(reason.Kind)).Inc()
	return updated, nil
}

// Lock takes the balance row locks of userIDs in ascending id order. Units
// of work touching several balances call it before mutating any of them so
// two of them never wait on each other.
func Lock(ctx context.Context, tx repository.Tx, userIDs ...int64) error {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		if _, err := tx.Balances().GetForUpdate(ctx, id); err != nil {
			return fmt.Errorf("failed to lock balance of user %d: %w", id, err)
		}
	}
	return nil
}

// Refunded reports whether the funds held for a bid were already returned.
func Refunded(ctx context.Context, tx repository.Tx, bidID int64) (bool, error) {
	return tx.Entries().HasRefund(ctx, bidID)
}
