package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type ModerationService interface {
	// Moderate moves a pending lot to approved or rejected.
	Moderate(ctx context.Context, lotID int64, decision models.LotStatus) (*models.Lot, error)
}

type moderationService struct {
	store     repository.Store
	publisher kafka.Publisher
}

func NewModerationService(store repository.Store, publisher kafka.Publisher) *moderationService {
	return &moderationService{store: store, publisher: publisher}
}

func (s *moderationService) Moderate(ctx context.Context, lotID int64, decision models.LotStatus) (*models.Lot, error) {
	tracer := otel.Tracer("moderation-service")
	ctx, span := tracer.Start(ctx, "Moderate")
	defer span.End()
	span.SetAttributes(attribute.Int64("lot_id", lotID), attribute.String("decision", string(decision)))

	if decision != models.LotApproved && decision != models.LotRejected {
		return nil, fail(span, fmt.Errorf("%w: decision must be approved or rejected", pkgerrors.ErrInvalidInput), "invalid decision")
	}

	var (
		lot *models.Lot
		out outbox
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		lot, err = tx.Lots().GetForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Status != models.LotPending {
			return fmt.Errorf("%w: lot is %s", pkgerrors.ErrInvalidTransition, lot.Status)
		}
		if err := tx.Lots().UpdateStatus(ctx, lotID, decision); err != nil {
			return err
		}
		lot.Status = decision

		if err := out.record(ctx, tx, models.AuctionEvent{
			AuctionID: lot.AuctionID,
			LotID:     lotRef(lot.ID),
			Type:      models.EventLotModerated,
			Details:   fmt.Sprintf("lot '%s' %s", lot.Title, decision),
		}); err != nil {
			return err
		}
		return out.notify(ctx, tx, lot.DonorID, "Lot moderation result",
			fmt.Sprintf("Your lot '%s' has been %s.", lot.Title, decision))
	})
	if err != nil {
		slog.Warn("moderation rejected", "lot_id", lotID, "decision", decision, "error", err)
		return nil, fail(span, err, "moderation rejected")
	}

	out.publish(ctx, s.publisher)
	slog.Info("lot moderated", "lot_id", lotID, "decision", decision)
	return lot, nil
}
