package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleDonor   Role = "donor"
	RoleBuyer   Role = "buyer"
	RoleCharity Role = "charity"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the spendable amount of one user. It is never negative and is
// only changed through ledger credits and debits.
type Balance struct {
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}
