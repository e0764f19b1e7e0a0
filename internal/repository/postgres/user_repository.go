package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/charity-auction/internal/models"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, done := instrument(ctx, "user-repository", "GetUserByID", attribute.Int64("user_id", id))
	defer done(&err)

	var u models.User
	query := `SELECT id, email, username, role, created_at FROM users WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &u, nil
}

type BalanceRepository struct {
	db DBTX
}

func NewBalanceRepository(db DBTX) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) Get(ctx context.Context, userID int64) (balance *models.Balance, err error) {
	ctx, done := instrument(ctx, "balance-repository", "GetBalance", attribute.Int64("user_id", userID))
	defer done(&err)

	query := `SELECT user_id, amount, updated_at FROM balances WHERE user_id = $1`
	return r.get(ctx, "Get", query, userID)
}

func (r *BalanceRepository) GetForUpdate(ctx context.Context, userID int64) (balance *models.Balance, err error) {
	ctx, done := instrument(ctx, "balance-repository", "GetBalanceForUpdate", attribute.Int64("user_id", userID))
	defer done(&err)

	query := `SELECT user_id, amount, updated_at FROM balances WHERE user_id = $1 FOR UPDATE`
	return r.get(ctx, "GetForUpdate", query, userID)
}

func (r *BalanceRepository) get(ctx context.Context, method, query string, userID int64) (*models.Balance, error) {
	var b models.Balance
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&b.UserID, &b.Amount, &b.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrBalanceNotFound
	}
	if err != nil {
		slog.Error("failed to get balance", "method", method, "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

// SetAmount stores a balance computed by the ledger. The CHECK constraint on
// balances.amount rejects negative values as a last line of defence.
func (r *BalanceRepository) SetAmount(ctx context.Context, userID int64, amount decimal.Decimal) (err error) {
	ctx, done := instrument(ctx, "balance-repository", "SetBalanceAmount", attribute.Int64("user_id", userID))
	defer done(&err)

	if amount.IsNegative() {
		err = pkgerrors.ErrInsufficientFunds
		slog.Error("refusing to store negative balance", "method", "SetAmount", "user_id", userID, "amount", amount.String())
		return err
	}

	query := `UPDATE balances SET amount = $1, updated_at = NOW() WHERE user_id = $2`
	res, err := r.db.ExecContext(ctx, query, amount, userID)
	if err != nil {
		slog.Error("failed to update balance", "method", "SetAmount", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrBalanceNotFound
	}
	return nil
}

type LedgerEntryRepository struct {
	db DBTX
}

func NewLedgerEntryRepository(db DBTX) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

func (r *LedgerEntryRepository) Append(ctx context.Context, entry *models.LedgerEntry) (err error) {
	ctx, done := instrument(ctx, "ledger-repository", "AppendLedgerEntry")
	defer done(&err)

	if entry == nil {
		return pkgerrors.ErrInvalidInput
	}

	query := `INSERT INTO ledger_entries (user_id, kind, amount, bid_id) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, entry.UserID, entry.Kind, entry.Amount, entry.BidID).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		slog.Error("failed to append ledger entry", "method", "Append", "user_id", entry.UserID, "kind", entry.Kind, "error", err)
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerEntryRepository) HasRefund(ctx context.Context, bidID int64) (found bool, err error) {
	ctx, done := instrument(ctx, "ledger-repository", "HasRefund", attribute.Int64("bid_id", bidID))
	defer done(&err)

	query := `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE bid_id = $1 AND kind IN ('outbid_refund', 'settlement_refund'))`
	if err = r.db.QueryRowContext(ctx, query, bidID).Scan(&found); err != nil {
		slog.Error("failed to check refund", "method", "HasRefund", "bid_id", bidID, "error", err)
		return false, fmt.Errorf("failed to check refund: %w", err)
	}
	return found, nil
}

func (r *LedgerEntryRepository) ListByUser(ctx context.Context, userID int64) (entries []models.LedgerEntry, err error) {
	ctx, done := instrument(ctx, "ledger-repository", "ListLedgerEntries", attribute.Int64("user_id", userID))
	defer done(&err)

	query := `SELECT id, user_id, kind, amount, bid_id, created_at FROM ledger_entries WHERE user_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to list ledger entries", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.LedgerEntry
		var bidID sql.NullInt64
		if err = rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &bidID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.BidID = nullableInt64(bidID)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
