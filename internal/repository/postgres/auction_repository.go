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
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const auctionColumns = `id, charity_user_id, name, start_time, end_time, status, is_paid, ticket_price, created_at`

type AuctionRepository struct {
	db DBTX
}

func NewAuctionRepository(db DBTX) *AuctionRepository {
	return &AuctionRepository{db: db}
}

func scanAuction(row rowScanner) (*models.Auction, error) {
	var a models.Auction
	err := row.Scan(&a.ID, &a.CharityUserID, &a.Name, &a.StartTime, &a.EndTime, &a.Status, &a.IsPaid, &a.TicketPrice, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AuctionRepository) GetByID(ctx context.Context, id int64) (auction *models.Auction, err error) {
	ctx, done := instrument(ctx, "auction-repository", "GetAuctionByID", attribute.Int64("auction_id", id))
	defer done(&err)

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	auction, err = scanAuction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrAuctionNotFound
	}
	if err != nil {
		slog.Error("failed to get auction by id", "method", "GetByID", "auction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get auction by id: %w", err)
	}
	return auction, nil
}

func (r *AuctionRepository) ListDue(ctx context.Context, now time.Time) (ids []int64, err error) {
	ctx, done := instrument(ctx, "auction-repository", "ListDueAuctions")
	defer done(&err)

	query := `SELECT id FROM auctions WHERE status = 'active' AND end_time <= $1 ORDER BY end_time, id`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		slog.Error("failed to list due auctions", "method", "ListDue", "error", err)
		return nil, fmt.Errorf("failed to list due auctions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list due auctions: %w", err)
	}
	return ids, nil
}

func (r *AuctionRepository) ListEndingBetween(ctx context.Context, from, to time.Time) (auctions []models.Auction, err error) {
	ctx, done := instrument(ctx, "auction-repository", "ListAuctionsEndingBetween")
	defer done(&err)

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status = 'active' AND end_time > $1 AND end_time <= $2 ORDER BY end_time`
	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		slog.Error("failed to list auctions ending soon", "method", "ListEndingBetween", "error", err)
		return nil, fmt.Errorf("failed to list auctions ending soon: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, scanErr := scanAuction(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list auctions ending soon: %w", err)
	}
	return auctions, nil
}

// ClaimForSettlement uses SKIP LOCKED so that an overlapping sweep sees a
// claimed auction as absent instead of blocking on it.
func (r *AuctionRepository) ClaimForSettlement(ctx context.Context, id int64, now time.Time) (auction *models.Auction, err error) {
	ctx, done := instrument(ctx, "auction-repository", "ClaimAuctionForSettlement", attribute.Int64("auction_id", id))
	defer done(&err)

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 AND status = 'active' AND end_time <= $2 FOR UPDATE SKIP LOCKED`
	auction, err = scanAuction(r.db.QueryRowContext(ctx, query, id, now))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("failed to claim auction", "method", "ClaimForSettlement", "auction_id", id, "error", err)
		return nil, fmt.Errorf("failed to claim auction: %w", err)
	}
	return auction, nil
}

func (r *AuctionRepository) UpdateStatus(ctx context.Context, id int64, status models.AuctionStatus) (err error) {
	ctx, done := instrument(ctx, "auction-repository", "UpdateAuctionStatus", attribute.Int64("auction_id", id), attribute.String("status", string(status)))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `UPDATE auctions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		slog.Error("failed to update auction status", "method", "UpdateStatus", "auction_id", id, "error", err)
		return fmt.Errorf("failed to update auction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrAuctionNotFound
	}
	return nil
}

type TicketRepository struct {
	db DBTX
}

func NewTicketRepository(db DBTX) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) Exists(ctx context.Context, auctionID, userID int64) (found bool, err error) {
	ctx, done := instrument(ctx, "ticket-repository", "TicketExists", attribute.Int64("auction_id", auctionID), attribute.Int64("user_id", userID))
	defer done(&err)

	query := `SELECT EXISTS (SELECT 1 FROM auction_tickets WHERE auction_id = $1 AND user_id = $2)`
	if err = r.db.QueryRowContext(ctx, query, auctionID, userID).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check ticket: %w", err)
	}
	return found, nil
}

func (r *TicketRepository) Create(ctx context.Context, ticket *models.AuctionTicket) (err error) {
	ctx, done := instrument(ctx, "ticket-repository", "CreateTicket")
	defer done(&err)

	query := `INSERT INTO auction_tickets (auction_id, user_id) VALUES ($1, $2) RETURNING id, purchased_at`
	err = r.db.QueryRowContext(ctx, query, ticket.AuctionID, ticket.UserID).Scan(&ticket.ID, &ticket.PurchasedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return pkgerrors.ErrTicketAlreadyOwned
		}
		slog.Error("failed to create ticket", "method", "Create", "auction_id", ticket.AuctionID, "user_id", ticket.UserID, "error", err)
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}
