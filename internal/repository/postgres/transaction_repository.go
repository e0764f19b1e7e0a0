package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/charity-auction/internal/models"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, user_id, lot_id, amount, payment_method, status, payment_time`

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) (id int64, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "CreateTransaction")
	defer done(&err)

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return 0, err
	}

	if tx.Status != models.StatusPending && tx.Status != models.StatusCompleted && tx.Status != models.StatusFailed {
		err = fmt.Errorf("%w: status %q", pkgerrors.ErrInvalidInput, tx.Status)
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status, "error", err)
		return 0, err
	}

	if !tx.Amount.IsPositive() {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount.String(), "error", err)
		return 0, err
	}

	query := `INSERT INTO transactions (user_id, lot_id, amount, payment_method, status) VALUES ($1, $2, $3, $4, $5) RETURNING id, payment_time`
	err = r.db.QueryRowContext(ctx, query, tx.UserID, tx.LotID, tx.Amount, tx.PaymentMethod, tx.Status).Scan(&tx.ID, &tx.PaymentTime)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "lot_id", tx.LotID, "error", err)
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "user_id", tx.UserID, "lot_id", tx.LotID, "status", tx.Status)
	return tx.ID, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "GetTransactionByID", attribute.Int64("transaction_id", id))
	defer done(&err)

	return r.get(ctx, "GetByID", `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *TransactionRepository) GetForUpdate(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "GetTransactionForUpdate", attribute.Int64("transaction_id", id))
	defer done(&err)

	return r.get(ctx, "GetForUpdate", `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

// ListByUser returns the user's purchases, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64) (txs []models.Transaction, err error) {
	ctx, done := instrument(ctx, "transaction-repository", "ListTransactionsByUser", attribute.Int64("user_id", userID))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tx models.Transaction
		if err = rows.Scan(&tx.ID, &tx.UserID, &tx.LotID, &tx.Amount, &tx.PaymentMethod, &tx.Status, &tx.PaymentTime); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (r *TransactionRepository) get(ctx context.Context, method, query string, id int64) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.QueryRowContext(ctx, query, id).Scan(&tx.ID, &tx.UserID, &tx.LotID, &tx.Amount, &tx.PaymentMethod, &tx.Status, &tx.PaymentTime)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction", "method", method, "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return &tx, nil
}

func (r *TransactionRepository) UpdateStatus(ctx context.Context, id int64, status models.StatusType) (err error) {
	ctx, done := instrument(ctx, "transaction-repository", "UpdateTransactionStatus", attribute.Int64("transaction_id", id))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET status = $1, payment_time = NOW() WHERE id = $2`, status, id)
	if err != nil {
		slog.Error("failed to update transaction status", "method", "UpdateStatus", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrTransactionNotFound
	}
	return nil
}

type DeliveryRepository struct {
	db DBTX
}

func NewDeliveryRepository(db DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) GetByTransaction(ctx context.Context, transactionID int64) (delivery *models.DeliveryDetail, err error) {
	ctx, done := instrument(ctx, "delivery-repository", "GetDeliveryByTransaction", attribute.Int64("transaction_id", transactionID))
	defer done(&err)

	var d models.DeliveryDetail
	var deliveredAt sql.NullTime
	query := `SELECT transaction_id, recipient_name, address, phone, delivery_type, status, delivery_date, created_at FROM delivery_details WHERE transaction_id = $1`
	err = r.db.QueryRowContext(ctx, query, transactionID).Scan(&d.TransactionID, &d.RecipientName, &d.Address, &d.Phone, &d.Type, &d.Status, &deliveredAt, &d.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDeliveryNotFound
	}
	if err != nil {
		slog.Error("failed to get delivery", "method", "GetByTransaction", "transaction_id", transactionID, "error", err)
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	d.DeliveryDate = nullableTime(deliveredAt)
	return &d, nil
}

func (r *DeliveryRepository) Upsert(ctx context.Context, delivery *models.DeliveryDetail) (err error) {
	ctx, done := instrument(ctx, "delivery-repository", "UpsertDelivery", attribute.Int64("transaction_id", delivery.TransactionID))
	defer done(&err)

	query := `
		INSERT INTO delivery_details (transaction_id, recipient_name, address, phone, delivery_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id) DO UPDATE
		SET recipient_name = EXCLUDED.recipient_name,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			delivery_type = EXCLUDED.delivery_type,
			status = EXCLUDED.status
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		delivery.TransactionID, delivery.RecipientName, delivery.Address, delivery.Phone, delivery.Type, delivery.Status,
	).Scan(&delivery.CreatedAt)
	if err != nil {
		slog.Error("failed to upsert delivery", "method", "Upsert", "transaction_id", delivery.TransactionID, "error", err)
		return fmt.Errorf("failed to upsert delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) UpdateStatus(ctx context.Context, transactionID int64, status models.DeliveryStatus, deliveredAt *time.Time) (err error) {
	ctx, done := instrument(ctx, "delivery-repository", "UpdateDeliveryStatus", attribute.Int64("transaction_id", transactionID), attribute.String("status", string(status)))
	defer done(&err)

	query := `UPDATE delivery_details SET status = $1, delivery_date = COALESCE($2, delivery_date) WHERE transaction_id = $3`
	res, err := r.db.ExecContext(ctx, query, status, deliveredAt, transactionID)
	if err != nil {
		slog.Error("failed to update delivery status", "method", "UpdateStatus", "transaction_id", transactionID, "error", err)
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrDeliveryNotFound
	}
	return nil
}
