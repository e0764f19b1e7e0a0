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

const lotColumns = `id, auction_id, donor_id, title, starting_price, status, winner_id, winning_bid_amount, created_at`

type LotRepository struct {
	db DBTX
}

func NewLotRepository(db DBTX) *LotRepository {
	return &LotRepository{db: db}
}

func scanLot(row rowScanner) (*models.Lot, error) {
	var l models.Lot
	var winner sql.NullInt64
	err := row.Scan(&l.ID, &l.AuctionID, &l.DonorID, &l.Title, &l.StartingPrice, &l.Status, &winner, &l.WinningBidAmount, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.WinnerID = nullableInt64(winner)
	return &l, nil
}

func (r *LotRepository) GetByID(ctx context.Context, id int64) (lot *models.Lot, err error) {
	ctx, done := instrument(ctx, "lot-repository", "GetLotByID", attribute.Int64("lot_id", id))
	defer done(&err)

	return r.get(ctx, "GetByID", `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
}

func (r *LotRepository) GetForUpdate(ctx context.Context, id int64) (lot *models.Lot, err error) {
	ctx, done := instrument(ctx, "lot-repository", "GetLotForUpdate", attribute.Int64("lot_id", id))
	defer done(&err)

	return r.get(ctx, "GetForUpdate", `SELECT `+lotColumns+` FROM lots WHERE id = $1 FOR UPDATE`, id)
}

func (r *LotRepository) get(ctx context.Context, method, query string, id int64) (*models.Lot, error) {
	lot, err := scanLot(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrLotNotFound
	}
	if err != nil {
		slog.Error("failed to get lot", "method", method, "lot_id", id, "error", err)
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return lot, nil
}

func (r *LotRepository) ListApprovedForUpdate(ctx context.Context, auctionID int64) (lots []models.Lot, err error) {
	ctx, done := instrument(ctx, "lot-repository", "ListApprovedLotsForUpdate", attribute.Int64("auction_id", auctionID))
	defer done(&err)

	query := `SELECT ` + lotColumns + ` FROM lots WHERE auction_id = $1 AND status = 'approved' ORDER BY id FOR UPDATE`
	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		slog.Error("failed to list approved lots", "method", "ListApprovedForUpdate", "auction_id", auctionID, "error", err)
		return nil, fmt.Errorf("failed to list approved lots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		lot, scanErr := scanLot(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, *lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list approved lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepository) UpdateStatus(ctx context.Context, id int64, status models.LotStatus) (err error) {
	ctx, done := instrument(ctx, "lot-repository", "UpdateLotStatus", attribute.Int64("lot_id", id), attribute.String("status", string(status)))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `UPDATE lots SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		slog.Error("failed to update lot status", "method", "UpdateStatus", "lot_id", id, "error", err)
		return fmt.Errorf("failed to update lot status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrLotNotFound
	}
	return nil
}

func (r *LotRepository) MarkSold(ctx context.Context, id, winnerID int64, amount decimal.Decimal) (err error) {
	ctx, done := instrument(ctx, "lot-repository", "MarkLotSold", attribute.Int64("lot_id", id), attribute.Int64("winner_id", winnerID))
	defer done(&err)

	query := `UPDATE lots SET status = 'sold', winner_id = $1, winning_bid_amount = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, winnerID, amount, id)
	if err != nil {
		slog.Error("failed to mark lot sold", "method", "MarkSold", "lot_id", id, "error", err)
		return fmt.Errorf("failed to mark lot sold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrLotNotFound
	}
	return nil
}

type BidRepository struct {
	db DBTX
}

func NewBidRepository(db DBTX) *BidRepository {
	return &BidRepository{db: db}
}

func (r *BidRepository) Create(ctx context.Context, bid *models.Bid) (err error) {
	ctx, done := instrument(ctx, "bid-repository", "CreateBid")
	defer done(&err)

	if bid == nil {
		return pkgerrors.ErrNilBid
	}
	if !bid.Amount.IsPositive() {
		return pkgerrors.ErrInvalidAmount
	}

	query := `INSERT INTO bids (lot_id, user_id, amount) VALUES ($1, $2, $3) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, bid.LotID, bid.UserID, bid.Amount).Scan(&bid.ID, &bid.CreatedAt)
	if err != nil {
		slog.Error("failed to create bid", "method", "Create", "lot_id", bid.LotID, "user_id", bid.UserID, "error", err)
		return fmt.Errorf("failed to create bid: %w", err)
	}
	return nil
}

func (r *BidRepository) GetHighest(ctx context.Context, lotID int64) (bid *models.Bid, err error) {
	ctx, done := instrument(ctx, "bid-repository", "GetHighestBid", attribute.Int64("lot_id", lotID))
	defer done(&err)

	var b models.Bid
	query := `SELECT id, lot_id, user_id, amount, created_at FROM bids WHERE lot_id = $1 ORDER BY amount DESC, id ASC LIMIT 1`
	err = r.db.QueryRowContext(ctx, query, lotID).Scan(&b.ID, &b.LotID, &b.UserID, &b.Amount, &b.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, nil
	}
	if err != nil {
		slog.Error("failed to get highest bid", "method", "GetHighest", "lot_id", lotID, "error", err)
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}
	return &b, nil
}

func (r *BidRepository) ListByLot(ctx context.Context, lotID int64) (bids []models.Bid, err error) {
	ctx, done := instrument(ctx, "bid-repository", "ListBidsByLot", attribute.Int64("lot_id", lotID))
	defer done(&err)

	query := `SELECT id, lot_id, user_id, amount, created_at FROM bids WHERE lot_id = $1 ORDER BY amount DESC, id ASC`
	return r.list(ctx, "ListByLot", query, lotID)
}

func (r *BidRepository) ListByUser(ctx context.Context, userID int64) (bids []models.Bid, err error) {
	ctx, done := instrument(ctx, "bid-repository", "ListBidsByUser", attribute.Int64("user_id", userID))
	defer done(&err)

	query := `SELECT id, lot_id, user_id, amount, created_at FROM bids WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, "ListByUser", query, userID)
}

func (r *BidRepository) list(ctx context.Context, method, query string, arg int64) ([]models.Bid, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		slog.Error("failed to list bids", "method", method, "id", arg, "error", err)
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err = rows.Scan(&b.ID, &b.LotID, &b.UserID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepository) ListBidderIDs(ctx context.Context, auctionID int64) (ids []int64, err error) {
	ctx, done := instrument(ctx, "bid-repository", "ListBidderIDs", attribute.Int64("auction_id", auctionID))
	defer done(&err)

	query := `SELECT DISTINCT b.user_id FROM bids b JOIN lots l ON l.id = b.lot_id WHERE l.auction_id = $1 AND l.status = 'approved' ORDER BY b.user_id`
	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		slog.Error("failed to list bidders", "method", "ListBidderIDs", "auction_id", auctionID, "error", err)
		return nil, fmt.Errorf("failed to list bidders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan bidder id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bidders: %w", err)
	}
	return ids, nil
}
