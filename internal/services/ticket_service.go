package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/ledger"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type TicketService interface {
	Purchase(ctx context.Context, auctionID, userID int64) (*models.AuctionTicket, error)
	// HasTicket is always true for free auctions.
	HasTicket(ctx context.Context, auctionID, userID int64) (bool, error)
}

type ticketService struct {
	store       repository.Store
	redisClient redis.RedisClient
	publisher   kafka.Publisher
	now         func() time.Time
}

func NewTicketService(store repository.Store, redisClient redis.RedisClient, publisher kafka.Publisher) *ticketService {
	return &ticketService{store: store, redisClient: redisClient, publisher: publisher, now: time.Now}
}

func (s *ticketService) Purchase(ctx context.Context, auctionID, userID int64) (*models.AuctionTicket, error) {
	tracer := otel.Tracer("ticket-service")
	ctx, span := tracer.Start(ctx, "Purchase")
	defer span.End()
	span.SetAttributes(attribute.Int64("auction_id", auctionID), attribute.Int64("user_id", userID))

	var (
		ticket *models.AuctionTicket
		out    outbox
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		auction, err := tx.Auctions().GetByID(ctx, auctionID)
		if err != nil {
			return err
		}
		if !auction.IsPaid {
			return pkgerrors.ErrAuctionFree
		}
		if !auction.AcceptsBids(s.now()) {
			return pkgerrors.ErrAuctionNotActive
		}

		owned, err := tx.Tickets().Exists(ctx, auctionID, userID)
		if err != nil {
			return err
		}
		if owned {
			return pkgerrors.ErrTicketAlreadyOwned
		}

		ticket = &models.AuctionTicket{AuctionID: auctionID, UserID: userID}
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return err
		}
		if auction.TicketPrice.IsPositive() {
			if _, err := ledger.Debit(ctx, tx, userID, auction.TicketPrice, ledger.Reason{Kind: models.EntryTicket}); err != nil {
				return err
			}
		}

		return out.record(ctx, tx, models.AuctionEvent{
			AuctionID: auctionID,
			Type:      models.EventTicketPurchased,
			Details:   fmt.Sprintf("user %d bought a ticket for %s", userID, auction.TicketPrice.StringFixed(2)),
		})
	})
	if err != nil {
		slog.Warn("ticket purchase rejected", "auction_id", auctionID, "user_id", userID, "error", err)
		return nil, fail(span, err, "ticket purchase rejected")
	}

	invalidateBalances(ctx, s.redisClient, userID)
	out.publish(ctx, s.publisher)
	slog.Info("ticket purchased", "ticket_id", ticket.ID, "auction_id", auctionID, "user_id", userID)
	return ticket, nil
}

func (s *ticketService) HasTicket(ctx context.Context, auctionID, userID int64) (bool, error) {
	tracer := otel.Tracer("ticket-service")
	ctx, span := tracer.Start(ctx, "HasTicket")
	defer span.End()

	auction, err := s.store.Auctions().GetByID(ctx, auctionID)
	if err != nil {
		return false, fail(span, err, "auction not found")
	}
	if !auction.IsPaid {
		return true, nil
	}
	owned, err := s.store.Tickets().Exists(ctx, auctionID, userID)
	if err != nil {
		return false, fail(span, err, "failed to check ticket")
	}
	return owned, nil
}
