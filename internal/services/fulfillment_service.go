package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/charity-auction/internal/fulfillment"
	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type DeliveryRequest struct {
	RecipientName string              `json:"recipient_name"`
	Address       string              `json:"address"`
	Phone         string              `json:"phone"`
	Type          models.DeliveryType `json:"delivery_type"`
}

func (r DeliveryRequest) validate() error {
	if strings.TrimSpace(r.RecipientName) == "" || strings.TrimSpace(r.Address) == "" || strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("%w: recipient_name, address and phone are required", pkgerrors.ErrInvalidInput)
	}
	if r.Type != models.DeliveryCourier && r.Type != models.DeliveryPickup {
		return fmt.Errorf("%w: unknown delivery type %q", pkgerrors.ErrInvalidInput, r.Type)
	}
	return nil
}

type FulfillmentStatus struct {
	Transaction models.Transaction     `json:"transaction"`
	Delivery    *models.DeliveryDetail `json:"delivery,omitempty"`
	State       fulfillment.State      `json:"state"`
	// Closed is set once delivery ended, successfully or not.
	Closed      bool                   `json:"closed"`
}

type FulfillmentService interface {
	Pay(ctx context.Context, transactionID, userID int64) (*FulfillmentStatus, error)
	SubmitDelivery(ctx context.Context, transactionID, userID int64, req DeliveryRequest) (*FulfillmentStatus, error)
	MarkShipped(ctx context.Context, transactionID, actorID int64) (*FulfillmentStatus, error)
	ConfirmDelivery(ctx context.Context, transactionID, userID int64) (*FulfillmentStatus, error)
	MarkFailed(ctx context.Context, transactionID, actorID int64) (*FulfillmentStatus, error)
	Status(ctx context.Context, transactionID, userID int64) (*FulfillmentStatus, error)
	// Purchases lists the lots won by the user, newest first.
	Purchases(ctx context.Context, userID int64) ([]FulfillmentStatus, error)
}

type fulfillmentService struct {
	store     repository.Store
	publisher kafka.Publisher
	now       func() time.Time
}

func NewFulfillmentService(store repository.Store, publisher kafka.Publisher) *fulfillmentService {
	return &fulfillmentService{store: store, publisher: publisher, now: time.Now}
}

// step is one checked transition. apply persists the change; t, lot and
// the current delivery are loaded and locked by transition.
type step struct {
	action fulfillment.Action
	apply  func(ctx context.Context, tx repository.Tx, out *outbox, t *models.Transaction, lot *models.Lot) error
}

func (s *fulfillmentService) transition(ctx context.Context, transactionID, actorID int64, st step) (*FulfillmentStatus, error) {
	tracer := otel.Tracer("fulfillment-service")
	ctx, span := tracer.Start(ctx, string(st.action))
	defer span.End()
	span.SetAttributes(attribute.Int64("transaction_id", transactionID), attribute.Int64("actor_id", actorID))

	var (
		out    outbox
		status *FulfillmentStatus
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		lot, err := tx.Lots().GetByID(ctx, t.LotID)
		if err != nil {
			return err
		}
		if !allowed(fulfillment.Performer(st.action), actorID, t, lot) {
			return pkgerrors.ErrForbidden
		}

		delivery, err := loadDelivery(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if _, err := fulfillment.Next(fulfillment.Derive(t, delivery), st.action); err != nil {
			return err
		}
		if err := st.apply(ctx, tx, &out, t, lot); err != nil {
			return err
		}

		status, err = loadStatus(ctx, tx, transactionID)
		return err
	})
	if err != nil {
		slog.Warn("fulfillment transition rejected", "action", st.action, "transaction_id", transactionID, "actor_id", actorID, "error", err)
		return nil, fail(span, err, "transition rejected")
	}

	out.publish(ctx, s.publisher)
	slog.Info("fulfillment transition applied", "action", st.action, "transaction_id", transactionID, "state", status.State)
	return status, nil
}

// Pay confirms a pending transaction. Funds were escrowed when the bid was
// placed, so no balance changes here.
func (s *fulfillmentService) Pay(ctx context.Context, transactionID, userID int64) (*FulfillmentStatus, error) {
	return s.transition(ctx, transactionID, userID, step{
		action: fulfillment.ActionPay,
		apply: func(ctx context.Context, tx repository.Tx, out *outbox, t *models.Transaction, lot *models.Lot) error {
			if err := tx.Transactions().UpdateStatus(ctx, t.ID, models.StatusCompleted); err != nil {
				return err
			}
			if err := out.notify(ctx, tx, lot.DonorID, "Your lot has been paid",
				fmt.Sprintf("Lot '%s' was paid for %s. Waiting for delivery details.", lot.Title, t.Amount.StringFixed(2))); err != nil {
				return err
			}
			return out.notify(ctx, tx, t.UserID, "Payment successful",
				fmt.Sprintf("You paid for '%s'. Please submit delivery details.", lot.Title))
		},
	})
}

func (s *fulfillmentService) SubmitDelivery(ctx context.Context, transactionID, userID int64, req DeliveryRequest) (*FulfillmentStatus, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, transactionID, userID, step{
		action: fulfillment.ActionSubmitDelivery,
		apply: func(ctx context.Context, tx repository.Tx, out *outbox, t *models.Transaction, lot *models.Lot) error {
			if err := tx.Deliveries().Upsert(ctx, &models.DeliveryDetail{
				TransactionID: t.ID,
				RecipientName: req.RecipientName,
				Address:       req.Address,
				Phone:         req.Phone,
				Type:          req.Type,
				Status:        models.DeliveryPending,
			}); err != nil {
				return err
			}
			return out.notify(ctx, tx, lot.DonorID, "Delivery details received",
				fmt.Sprintf("The buyer of '%s' submitted %s delivery details. Please ship the lot.", lot.Title, req.Type))
		},
	})
}

func (s *fulfillmentService) MarkShipped(ctx context.Context, transactionID, actorID int64) (*FulfillmentStatus, error) {
	return s.transition(ctx, transactionID, actorID, step{
		action: fulfillment.ActionShip,
		apply: func(ctx context.Context, tx repository.Tx, out *outbox, t *models.Transaction, lot *models.Lot) error {
			if err := tx.Deliveries().UpdateStatus(ctx, t.ID, models.DeliveryShipped, nil); err != nil {
				return err
			}
			return out.notify(ctx, tx, t.UserID, "Your lot has been shipped",
				fmt.Sprintf("'%s' is on its way. Please confirm delivery once it arrives.", lot.Title))
		},
	})
}

func (s *fulfillmentService) ConfirmDelivery(ctx context.Context, transactionID, userID int64) (*FulfillmentStatus, error) {
	return s.transition(ctx, transactionID, userID, step{
		action: fulfillment.ActionConfirm,
		apply: func(ctx context.Context, tx repository.Tx, out *outbox, t *models.Transaction, lot *models.Lot) error {
			deliveredAt := s.now().UTC()
			if err := tx.Deliveries().UpdateStatus(ctx, t.ID, models.DeliveryDelivered, &deliveredAt); err != nil {
				return err
			}
			if err := out.notify(ctx, tx, lot.DonorID, "Delivery confirmed",
				fmt.Sprintf("The buyer confirmed receiving '%s'.", lot.Title)); err != nil {
				return err
			}
			return out.notify(ctx, tx, t.UserID, "Thank you for confirming delivery",
				fmt.Sprintf("You confirmed receiving '%s'. Thank you for supporting the charity auction!", lot.Title))
		},
	})
}

func (s *fulfillmentService) MarkFailed(ctx context.Context, transactionID, actorID int64) (*FulfillmentStatus, error) {
	return s.transition(ctx, transactionID, actorID, step{
		action: fulfillment.ActionFail,
		apply: func(ctx context.Context, tx repository.Tx, out *outbox, t *models.Transaction, lot *models.Lot) error {
			if err := tx.Deliveries().UpdateStatus(ctx, t.ID, models.DeliveryFailed, nil); err != nil {
				return err
			}
			return out.notify(ctx, tx, t.UserID, "Delivery failed",
				fmt.Sprintf("Delivery of '%s' could not be completed.", lot.Title))
		},
	})
}

func (s *fulfillmentService) Status(ctx context.Context, transactionID, userID int64) (*FulfillmentStatus, error) {
	tracer := otel.Tracer("fulfillment-service")
	ctx, span := tracer.Start(ctx, "Status")
	defer span.End()

	t, err := s.store.Transactions().GetByID(ctx, transactionID)
	if err != nil {
		return nil, fail(span, err, "transaction not found")
	}
	lot, err := s.store.Lots().GetByID(ctx, t.LotID)
	if err != nil {
		return nil, fail(span, err, "lot not found")
	}
	if !allowed(fulfillment.Owner, userID, t, lot) && !allowed(fulfillment.Donor, userID, t, lot) {
		return nil, fail(span, pkgerrors.ErrForbidden, "forbidden")
	}
	status, err := loadStatus(ctx, s.store, transactionID)
	if err != nil {
		return nil, fail(span, err, "failed to load status")
	}
	return status, nil
}

func (s *fulfillmentService) Purchases(ctx context.Context, userID int64) ([]FulfillmentStatus, error) {
	tracer := otel.Tracer("fulfillment-service")
	ctx, span := tracer.Start(ctx, "Purchases")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	txs, err := s.store.Transactions().ListByUser(ctx, userID)
	if err != nil {
		slog.Error("failed to list purchases", "user_id", userID, "error", err)
		return nil, fail(span, err, "failed to list purchases")
	}

	purchases := make([]FulfillmentStatus, 0, len(txs))
	for i := range txs {
		delivery, err := loadDelivery(ctx, s.store, txs[i].ID)
		if err != nil {
			return nil, fail(span, err, "failed to load delivery")
		}
		purchases = append(purchases, newStatus(&txs[i], delivery))
	}
	return purchases, nil
}

func allowed(party fulfillment.Party, actorID int64, t *models.Transaction, lot *models.Lot) bool {
	switch party {
	case fulfillment.Owner:
		return t.UserID == actorID
	case fulfillment.Donor:
		return lot.DonorID == actorID
	default:
		return false
	}
}

func loadDelivery(ctx context.Context, tx repository.Tx, transactionID int64) (*models.DeliveryDetail, error) {
	delivery, err := tx.Deliveries().GetByTransaction(ctx, transactionID)
	if stderrors.Is(err, pkgerrors.ErrDeliveryNotFound) {
		return nil, nil
	}
	return delivery, err
}

func loadStatus(ctx context.Context, tx repository.Tx, transactionID int64) (*FulfillmentStatus, error) {
	t, err := tx.Transactions().GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	delivery, err := loadDelivery(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	status := newStatus(t, delivery)
	return &status, nil
}

func newStatus(t *models.Transaction, delivery *models.DeliveryDetail) FulfillmentStatus {
	state := fulfillment.Derive(t, delivery)
	return FulfillmentStatus{Transaction: *t, Delivery: delivery, State: state, Closed: state.Terminal()}
}
