package models

import (
	"database/sql"
	"time"
)

// Credit ledger event types. Charges carry negative deltas, grants
// positive ones.
const (
	EventBasicRefill         = "basic_refill"
	EventCharge              = "charge"
	EventRefund              = "refund"
	EventTopupAdd            = "topup_add"
	EventStarsPaymentPending = "stars_payment_pending"
	EventStarsPaymentSuccess = "stars_payment_success"
)

// LedgerEntry is one row of the append-only credit ledger. Rows are
// never updated after insert; correlation fields are filled in at
// insert time by the operation that produced the event.
type LedgerEntry struct {
	ID                int64           `json:"id" db:"id"`
	UserID            int64           `json:"user_id" db:"user_id"`
	EventType         string          `json:"event_type" db:"event_type"`
	BasicDeltaSec     int64           `json:"basic_delta_seconds" db:"basic_delta_seconds"`
	TopupDeltaSec     int64           `json:"topup_delta_seconds" db:"topup_delta_seconds"`
	ChargeSec         sql.NullInt64   `json:"charge_seconds,omitempty" db:"charge_seconds"`
	AudioDurationSec  sql.NullFloat64 `json:"audio_duration_seconds,omitempty" db:"audio_duration_seconds"`
	Provider          sql.NullString  `json:"provider,omitempty" db:"provider"`
	ProviderRequestID sql.NullString  `json:"provider_request_id,omitempty" db:"provider_request_id"`
	AdminID           sql.NullInt64   `json:"admin_id,omitempty" db:"admin_id"`
	Reason            sql.NullString  `json:"reason,omitempty" db:"reason"`
	PackageID         sql.NullInt64   `json:"package_id,omitempty" db:"package_id"`
	AmountStars       sql.NullInt64   `json:"amount_stars,omitempty" db:"amount_stars"`
	Meta              []byte          `json:"meta,omitempty" db:"meta"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}
