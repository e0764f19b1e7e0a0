package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/ledger"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const requestKeyTTL = 24 * time.Hour

type BidService interface {
	PlaceBid(ctx context.Context, lotID, bidderID int64, amount decimal.Decimal, requestID string) (*models.Bid, error)
	ListBids(ctx context.Context, lotID int64) ([]models.Bid, error)
	// ListByUser returns the user's bids across all lots, newest first.
	ListByUser(ctx context.Context, userID int64) ([]models.Bid, error)
}

type bidService struct {
	store       repository.Store
	redisClient redis.RedisClient
	publisher   kafka.Publisher
	now         func() time.Time
}

func NewBidService(store repository.Store, redisClient redis.RedisClient, publisher kafka.Publisher) *bidService {
	return &bidService{
		store:       store,
		redisClient: redisClient,
		publisher:   publisher,
		now:         time.Now,
	}
}

// PlaceBid escrows amount from the bidder and refunds the previous leader in
// one unit of work. The lot row lock serializes concurrent bids on a lot.
func (s *bidService) PlaceBid(ctx context.Context, lotID, bidderID int64, amount decimal.Decimal, requestID string) (*models.Bid, error) {
	tracer := otel.Tracer("bid-service")
	ctx, span := tracer.Start(ctx, "PlaceBid")
	defer span.End()
	span.SetAttributes(attribute.Int64("lot_id", lotID), attribute.Int64("bidder_id", bidderID))

	if requestID != "" {
		requestKey := redis.RequestKey(requestID)
		ok, err := s.redisClient.SetNX(ctx, requestKey, "pending", requestKeyTTL)
		if err != nil {
			slog.Error("failed to set request key", "request_id", requestID, "error", err)
			return nil, fail(span, fmt.Errorf("failed to set request key: %w", err), "failed to set request key")
		}
		if !ok {
			slog.Warn("request already processed", "request_id", requestID, "user_id", bidderID)
			observability.BidsTotal.WithLabelValues("duplicate").Inc()
			return nil, fail(span, pkgerrors.ErrRequestAlreadyProcessed, "request already processed")
		}
	}

	var (
		bid      *models.Bid
		previous *models.Bid
		out      outbox
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		bid, previous, err = s.placeBid(ctx, tx, &out, lotID, bidderID, amount)
		return err
	})
	if err != nil {
		if requestID != "" {
			if delErr := s.redisClient.Del(context.WithoutCancel(ctx), redis.RequestKey(requestID)); delErr != nil {
				slog.Error("failed to release request key", "request_id", requestID, "error", delErr)
			}
		}
		observability.BidsTotal.WithLabelValues(bidResult(err)).Inc()
		slog.Warn("bid rejected", "lot_id", lotID, "user_id", bidderID, "amount", amount.String(), "error", err)
		return nil, fail(span, err, "bid rejected")
	}

	affected := []int64{bidderID}
	if previous != nil && previous.UserID != bidderID {
		affected = append(affected, previous.UserID)
	}
	invalidateBalances(ctx, s.redisClient, affected...)
	out.publish(ctx, s.publisher)
	observability.BidsTotal.WithLabelValues("accepted").Inc()

	slog.Info("bid placed", "bid_id", bid.ID, "lot_id", lotID, "user_id", bidderID, "amount", amount.String(), "request_id", requestID)
	return bid, nil
}

func (s *bidService) placeBid(
	ctx context.Context,
	tx repository.Tx,
	out *outbox,
	lotID, bidderID int64,
	amount decimal.Decimal,
) (*models.Bid, *models.Bid, error) {
	lot, err := tx.Lots().GetForUpdate(ctx, lotID)
	if err != nil {
		return nil, nil, err
	}
	if lot.Status != models.LotApproved {
		return nil, nil, pkgerrors.ErrLotNotApproved
	}

	auction, err := tx.Auctions().GetByID(ctx, lot.AuctionID)
	if err != nil {
		return nil, nil, err
	}
	if !auction.AcceptsBids(s.now()) {
		return nil, nil, pkgerrors.ErrAuctionNotActive
	}

	if lot.DonorID == bidderID {
		return nil, nil, pkgerrors.ErrSelfBidForbidden
	}

	previous, err := tx.Bids().GetHighest(ctx, lotID)
	if err != nil {
		return nil, nil, err
	}
	floor := lot.StartingPrice
	if previous != nil && previous.Amount.GreaterThan(floor) {
		floor = previous.Amount
	}
	if !amount.GreaterThan(floor) {
		return nil, nil, fmt.Errorf("%w: must exceed %s", pkgerrors.ErrBidTooLow, floor.StringFixed(2))
	}

	if previous != nil {
		if err := ledger.Lock(ctx, tx, bidderID, previous.UserID); err != nil {
			return nil, nil, err
		}
	}

	bid := &models.Bid{LotID: lotID, UserID: bidderID, Amount: amount}
	if err := tx.Bids().Create(ctx, bid); err != nil {
		return nil, nil, err
	}

	if _, err := ledger.Debit(ctx, tx, bidderID, amount, ledger.ForBid(models.EntryBidHold, bid.ID)); err != nil {
		return nil, nil, err
	}

	if previous != nil {
		if _, err := ledger.Credit(ctx, tx, previous.UserID, previous.Amount, ledger.ForBid(models.EntryOutbidRefund, previous.ID)); err != nil {
			slog.Error("outbid refund failed", "bid_id", previous.ID, "user_id", previous.UserID, "error", err)
			return nil, nil, fmt.Errorf("%w: refund of bid %d: %v", pkgerrors.ErrInvariantViolation, previous.ID, err)
		}
	}

	if err := out.record(ctx, tx, models.AuctionEvent{
		AuctionID: lot.AuctionID,
		LotID:     lotRef(lot.ID),
		Type:      models.EventBidPlaced,
		Details:   fmt.Sprintf("user %d bid %s", bidderID, amount.StringFixed(2)),
	}); err != nil {
		return nil, nil, err
	}
	if err := out.notify(ctx, tx, lot.DonorID, "New bid on your lot",
		fmt.Sprintf("A new bid of %s was placed on your lot '%s'.", amount.StringFixed(2), lot.Title)); err != nil {
		return nil, nil, err
	}
	if previous != nil && previous.UserID != bidderID {
		if err := out.notify(ctx, tx, previous.UserID, "You have been outbid",
			fmt.Sprintf("Your bid on '%s' was outbid. %s has been returned to your balance.", lot.Title, previous.Amount.StringFixed(2))); err != nil {
			return nil, nil, err
		}
	}

	return bid, previous, nil
}

func (s *bidService) ListBids(ctx context.Context, lotID int64) ([]models.Bid, error) {
	tracer := otel.Tracer("bid-service")
	ctx, span := tracer.Start(ctx, "ListBids")
	defer span.End()

	if _, err := s.store.Lots().GetByID(ctx, lotID); err != nil {
		return nil, fail(span, err, "lot not found")
	}
	bids, err := s.store.Bids().ListByLot(ctx, lotID)
	if err != nil {
		slog.Error("failed to list bids", "lot_id", lotID, "error", err)
		return nil, fail(span, err, "failed to list bids")
	}
	return bids, nil
}

func (s *bidService) ListByUser(ctx context.Context, userID int64) ([]models.Bid, error) {
	tracer := otel.Tracer("bid-service")
	ctx, span := tracer.Start(ctx, "ListByUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	bids, err := s.store.Bids().ListByUser(ctx, userID)
	if err != nil {
		slog.Error("failed to list user bids", "user_id", userID, "error", err)
		return nil, fail(span, err, "failed to list bids")
	}
	return bids, nil
}

func bidResult(err error) string {
	switch {
	case stderrors.Is(err, pkgerrors.ErrBidTooLow):
		return "too_low"
	case stderrors.Is(err, pkgerrors.ErrInsufficientFunds):
		return "insufficient_funds"
	case stderrors.Is(err, pkgerrors.ErrLotNotApproved):
		return "lot_not_approved"
	case stderrors.Is(err, pkgerrors.ErrAuctionNotActive):
		return "auction_not_active"
	case stderrors.Is(err, pkgerrors.ErrSelfBidForbidden):
		return "self_bid"
	case stderrors.Is(err, pkgerrors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
