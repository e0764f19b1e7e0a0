package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/ledger"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	"github.com/honeynil/charity-auction/internal/settlement"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type SettlementService interface {
	// SettleDue settles every active auction whose end time is not after
	// now and returns how many were settled by this call.
	SettleDue(ctx context.Context, now time.Time) (int, error)
	// SettleAuction reports false when there was nothing to settle. It fails
	// with ErrSettlementInProgress while another worker holds the auction.
	SettleAuction(ctx context.Context, auctionID int64, now time.Time) (bool, error)
	// NotifyEndingSoon reminds bidders of auctions ending within window and
	// returns the number of reminders sent.
	NotifyEndingSoon(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

type settlementService struct {
	store       repository.Store
	redisClient redis.RedisClient
	publisher   kafka.Publisher
	lockTTL     time.Duration
}

func NewSettlementService(store repository.Store, redisClient redis.RedisClient, publisher kafka.Publisher, lockTTL time.Duration) *settlementService {
	return &settlementService{
		store:       store,
		redisClient: redisClient,
		publisher:   publisher,
		lockTTL:     lockTTL,
	}
}

func (s *settlementService) SettleDue(ctx context.Context, now time.Time) (int, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "SettleDue")
	defer span.End()

	ids, err := s.store.Auctions().ListDue(ctx, now)
	if err != nil {
		slog.Error("failed to list due auctions", "error", err)
		return 0, fail(span, err, "failed to list due auctions")
	}

	settled := 0
	var firstErr error
	for _, id := range ids {
		ok, err := s.SettleAuction(ctx, id, now)
		if stderrors.Is(err, pkgerrors.ErrSettlementInProgress) {
			continue
		}
		if err != nil {
			// One broken auction must not block the rest of the sweep.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			settled++
		}
	}

	span.SetAttributes(attribute.Int("due", len(ids)), attribute.Int("settled", settled))
	if firstErr != nil {
		return settled, fail(span, firstErr, "settlement failed")
	}
	return settled, nil
}

func (s *settlementService) SettleAuction(ctx context.Context, auctionID int64, now time.Time) (bool, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "SettleAuction")
	defer span.End()
	span.SetAttributes(attribute.Int64("auction_id", auctionID))

	start := time.Now()
	lockKey := redis.SettlementLockKey(auctionID)
	token := uuid.NewString()
	locked, err := s.redisClient.SetNX(ctx, lockKey, token, s.lockTTL)
	if err != nil {
		observability.SettlementRuns.WithLabelValues("error").Inc()
		slog.Error("failed to acquire settlement lock", "auction_id", auctionID, "error", err)
		return false, fail(span, fmt.Errorf("failed to acquire settlement lock: %w", err), "failed to acquire lock")
	}
	if !locked {
		observability.SettlementRuns.WithLabelValues("busy").Inc()
		slog.Info("settlement already in progress", "auction_id", auctionID)
		return false, pkgerrors.ErrSettlementInProgress
	}
	defer func() {
		released, err := s.redisClient.DelIfEqual(context.WithoutCancel(ctx), lockKey, token)
		if err != nil {
			slog.Error("failed to release settlement lock", "auction_id", auctionID, "error", err)
			return
		}
		if !released {
			slog.Warn("settlement lock expired before release", "auction_id", auctionID, "ttl", s.lockTTL)
		}
	}()

	var (
		out      outbox
		settled  bool
		refunded []int64
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, refunded, settled = outbox{}, nil, false

		auction, err := tx.Auctions().ClaimForSettlement(ctx, auctionID, now)
		if err != nil {
			return err
		}
		if auction == nil {
			return nil
		}

		if err := tx.Auctions().UpdateStatus(ctx, auctionID, models.AuctionCompleted); err != nil {
			return err
		}
		if err := out.record(ctx, tx, models.AuctionEvent{
			AuctionID: auctionID,
			Type:      models.EventAuctionEnded,
			Details:   fmt.Sprintf("auction '%s' ended", auction.Name),
		}); err != nil {
			return err
		}
		if err := out.notify(ctx, tx, auction.CharityUserID, "Auction completed",
			fmt.Sprintf("Your auction '%s' has been completed.", auction.Name)); err != nil {
			return err
		}

		lots, err := tx.Lots().ListApprovedForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		bidders, err := tx.Bids().ListBidderIDs(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := ledger.Lock(ctx, tx, bidders...); err != nil {
			return err
		}
		for _, lot := range lots {
			users, err := s.settleLot(ctx, tx, &out, lot)
			if err != nil {
				return fmt.Errorf("failed to settle lot %d: %w", lot.ID, err)
			}
			refunded = append(refunded, users...)
		}

		settled = true
		return nil
	})
	if err != nil {
		observability.SettlementRuns.WithLabelValues("error").Inc()
		slog.Error("auction settlement failed", "auction_id", auctionID, "error", err)
		return false, fail(span, err, "settlement failed")
	}
	if !settled {
		observability.SettlementRuns.WithLabelValues("noop").Inc()
		return false, nil
	}

	invalidateBalances(ctx, s.redisClient, refunded...)
	out.publish(ctx, s.publisher)
	observability.SettlementRuns.WithLabelValues("settled").Inc()
	observability.SettlementDuration.Observe(time.Since(start).Seconds())

	slog.Info("auction settled", "auction_id", auctionID, "refunded_users", len(refunded))
	return true, nil
}

// settleLot resolves one locked lot and returns the users whose balances
// changed.
func (s *settlementService) settleLot(ctx context.Context, tx repository.Tx, out *outbox, lot models.Lot) ([]int64, error) {
	bids, err := tx.Bids().ListByLot(ctx, lot.ID)
	if err != nil {
		return nil, err
	}

	refundedBids := make(map[int64]bool, len(bids))
	for _, b := range bids {
		done, err := ledger.Refunded(ctx, tx, b.ID)
		if err != nil {
			return nil, err
		}
		refundedBids[b.ID] = done
	}

	res := settlement.Resolve(bids, func(id int64) bool { return refundedBids[id] })
	if !res.Sold() {
		if err := tx.Lots().UpdateStatus(ctx, lot.ID, res.Status()); err != nil {
			return nil, err
		}
		if err := out.record(ctx, tx, models.AuctionEvent{
			AuctionID: lot.AuctionID,
			LotID:     lotRef(lot.ID),
			Type:      models.EventLotNotSold,
			Details:   fmt.Sprintf("lot '%s' received no bids", lot.Title),
		}); err != nil {
			return nil, err
		}
		if err := out.notify(ctx, tx, lot.DonorID, "Lot not sold",
			fmt.Sprintf("Unfortunately your lot '%s' received no bids and was not sold.", lot.Title)); err != nil {
			return nil, err
		}
		observability.SettledLots.WithLabelValues(string(res.Status())).Inc()
		return nil, nil
	}

	winner := res.Winner
	if err := tx.Lots().MarkSold(ctx, lot.ID, winner.UserID, winner.Amount); err != nil {
		return nil, err
	}
	transactionID, err := tx.Transactions().Create(ctx, &models.Transaction{
		UserID:        winner.UserID,
		LotID:         lot.ID,
		Amount:        winner.Amount,
		PaymentMethod: models.PaymentBalance,
		Status:        models.StatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	var changed []int64
	notified := make(map[int64]bool)
	for _, b := range res.Refunds {
		if _, err := ledger.Credit(ctx, tx, b.UserID, b.Amount, ledger.ForBid(models.EntrySettlementRefund, b.ID)); err != nil {
			return nil, fmt.Errorf("%w: settlement refund of bid %d: %v", pkgerrors.ErrInvariantViolation, b.ID, err)
		}
		changed = append(changed, b.UserID)
	}
	for _, b := range bids {
		if b.UserID == winner.UserID || notified[b.UserID] {
			continue
		}
		notified[b.UserID] = true
		if err := out.notify(ctx, tx, b.UserID, "Your bid did not win",
			fmt.Sprintf("Your bid on '%s' did not win. Held funds have been returned to your balance.", lot.Title)); err != nil {
			return nil, err
		}
	}

	if err := out.record(ctx, tx, models.AuctionEvent{
		AuctionID: lot.AuctionID,
		LotID:     lotRef(lot.ID),
		Type:      models.EventLotSold,
		Details:   fmt.Sprintf("lot '%s' sold to user %d for %s", lot.Title, winner.UserID, winner.Amount.StringFixed(2)),
	}); err != nil {
		return nil, err
	}
	if err := out.notify(ctx, tx, winner.UserID, "You won a lot!",
		fmt.Sprintf("Congratulations! You won '%s' for %s. Your purchase is transaction #%d.", lot.Title, winner.Amount.StringFixed(2), transactionID)); err != nil {
		return nil, err
	}
	if err := out.notify(ctx, tx, lot.DonorID, "Your lot has been sold",
		fmt.Sprintf("Your lot '%s' was won for %s.", lot.Title, winner.Amount.StringFixed(2))); err != nil {
		return nil, err
	}

	observability.SettledLots.WithLabelValues(string(res.Status())).Inc()
	return changed, nil
}

func (s *settlementService) NotifyEndingSoon(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "NotifyEndingSoon")
	defer span.End()

	auctions, err := s.store.Auctions().ListEndingBetween(ctx, now, now.Add(window))
	if err != nil {
		slog.Error("failed to list auctions ending soon", "error", err)
		return 0, fail(span, err, "failed to list auctions")
	}

	sent := 0
	for _, auction := range auctions {
		bidders, err := s.store.Bids().ListBidderIDs(ctx, auction.ID)
		if err != nil {
			return sent, fail(span, err, "failed to list bidders")
		}

		for _, userID := range bidders {
			key := redis.ReminderKey(auction.ID, userID)
			// The key outlives the auction so a reminder is sent at most once.
			first, err := s.redisClient.SetNX(ctx, key, "sent", auction.EndTime.Sub(now)+time.Hour)
			if err != nil {
				return sent, fail(span, fmt.Errorf("failed to set reminder key: %w", err), "failed to set reminder key")
			}
			if !first {
				continue
			}

			var out outbox
			err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				return out.notify(ctx, tx, userID, "Auction ending soon",
					fmt.Sprintf("The auction '%s' you bid in ends at %s.", auction.Name, auction.EndTime.UTC().Format(time.RFC3339)))
			})
			if err != nil {
				if delErr := s.redisClient.Del(context.WithoutCancel(ctx), key); delErr != nil {
					slog.Error("failed to release reminder key", "key", key, "error", delErr)
				}
				return sent, fail(span, err, "failed to store reminder")
			}
			out.publish(ctx, s.publisher)
			sent++
		}
	}

	if sent > 0 {
		slog.Info("ending soon reminders sent", "auctions", len(auctions), "reminders", sent)
	}
	return sent, nil
}

var _ SettlementService = (*settlementService)(nil)
