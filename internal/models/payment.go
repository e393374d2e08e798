package models

import (
	"database/sql"
	"time"
)

// Stars payment statuses. "credited" and "failed" are terminal;
// "credited" can never be downgraded.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusCredited = "credited"
	PaymentStatusFailed   = "failed"
)

// StarsPayment is one purchase attempt paid with Telegram stars. The
// payload column is the globally unique idempotency token shown to
// the payment provider.
type StarsPayment struct {
	ID               int64          `json:"id" db:"id"`
	UserID           int64          `json:"user_id" db:"user_id"`
	PackageID        int64          `json:"package_id" db:"package_id"`
	Payload          string         `json:"payload" db:"payload"`
	AmountStars      int64          `json:"amount_stars" db:"amount_stars"`
	Status           string         `json:"status" db:"status"`
	ProviderChargeID sql.NullString `json:"provider_charge_id,omitempty" db:"provider_charge_id"`
	RawUpdate        []byte         `json:"raw_update,omitempty" db:"raw_update"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	PaidAt           sql.NullTime   `json:"paid_at,omitempty" db:"paid_at"`
	CreditedAt       sql.NullTime   `json:"credited_at,omitempty" db:"credited_at"`
}
