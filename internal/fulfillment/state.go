// Package fulfillment tracks a sold lot from payment to delivery.
package fulfillment

import (
	"fmt"

	"github.com/honeynil/charity-auction/internal/models"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
)

type State string

const (
	AwaitingPayment State = "awaiting_payment"
	Paid            State = "paid"
	DeliveryPending State = "delivery_pending"
	Shipped         State = "shipped"
	Delivered       State = "delivered"
	Failed          State = "failed"
)

type Action string

const (
	ActionPay            Action = "pay"
	ActionSubmitDelivery Action = "submit_delivery"
	ActionShip           Action = "ship"
	ActionConfirm        Action = "confirm_delivery"
	ActionFail           Action = "fail"
)

// Party is who may perform an action: the buyer owning the transaction or
// the donor of the sold lot.
type Party int

const (
	Owner Party = iota
	Donor
)

var transitions = map[Action]struct {
	party Party
	from  []State
	to    State
}{
	ActionPay:            {Owner, []State{AwaitingPayment}, Paid},
	ActionSubmitDelivery: {Owner, []State{Paid, DeliveryPending}, DeliveryPending},
	ActionShip:           {Donor, []State{DeliveryPending}, Shipped},
	ActionConfirm:        {Owner, []State{Shipped}, Delivered},
	ActionFail:           {Donor, []State{DeliveryPending, Shipped}, Failed},
}

// Derive computes the state from the stored transaction and its optional
// delivery record.
func Derive(tx *models.Transaction, delivery *models.DeliveryDetail) State {
	switch tx.Status {
	case models.StatusPending:
		return AwaitingPayment
	case models.StatusFailed:
		return Failed
	}
	if delivery == nil {
		return Paid
	}
	switch delivery.Status {
	case models.DeliveryShipped:
		return Shipped
	case models.DeliveryDelivered:
		return Delivered
	case models.DeliveryFailed:
		return Failed
	default:
		return DeliveryPending
	}
}

// Next returns the state reached by applying action in state.
func Next(state State, action Action) (State, error) {
	t, ok := transitions[action]
	if !ok {
		return state, fmt.Errorf("unknown action %q: %w", action, pkgerrors.ErrInvalidTransition)
	}
	for _, from := range t.from {
		if from == state {
			return t.to, nil
		}
	}
	if action == ActionPay {
		return state, pkgerrors.ErrAlreadyPaid
	}
	return state, fmt.Errorf("cannot %s from %s: %w", action, state, pkgerrors.ErrInvalidTransition)
}

// Performer returns the party allowed to perform action.
func Performer(action Action) Party {
	return transitions[action].party
}

func (s State) Terminal() bool {
	return s == Delivered || s == Failed
}
