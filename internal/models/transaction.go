package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	LotID         int64           `json:"lot_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        StatusType      `json:"status"`
	PaymentTime   time.Time       `json:"payment_time"`
}

type PaymentMethod string

const (
	PaymentBalance PaymentMethod = "balance"
)

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

type DeliveryType string

const (
	DeliveryCourier DeliveryType = "courier"
	DeliveryPickup  DeliveryType = "pickup"
)

type DeliveryDetail struct {
	TransactionID int64          `json:"transaction_id"`
	RecipientName string         `json:"recipient_name"`
	Address       string         `json:"address"`
	Phone         string         `json:"phone"`
	Type          DeliveryType   `json:"delivery_type"`
	Status        DeliveryStatus `json:"status"`
	DeliveryDate  *time.Time     `json:"delivery_date,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
