package models

import "time"

// Balance is the mutable per-user projection of the credit ledger.
// Seconds are whole seconds of recognized speech.
type Balance struct {
	UserID            int64     `json:"user_id" db:"user_id"`
	BasicRemainingSec int64     `json:"basic_remaining_seconds" db:"basic_remaining_seconds"`
	TopupRemainingSec int64     `json:"topup_remaining_seconds" db:"topup_remaining_seconds"`
	NextBasicRefillAt time.Time `json:"next_basic_refill_at" db:"next_basic_refill_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// ProfileSummary is the read model returned to the bot for the
// profile screen.
type ProfileSummary struct {
	UserID            int64     `json:"user_id"`
	BasicRemainingSec int64     `json:"basic_remaining_seconds"`
	TopupRemainingSec int64     `json:"topup_remaining_seconds"`
	NextBasicRefillAt time.Time `json:"next_basic_refill_at"`
	UsedThisMonthSec  int64     `json:"used_this_month_seconds"`
	MonthlyCapSec     int64     `json:"monthly_cap_seconds"`
}
