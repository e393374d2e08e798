package models

import "time"

// Package is a purchasable top-up offer. Packages are provisioned
// once and then only price-edited or toggled, never deleted.
type Package struct {
	ID             int64     `json:"id" db:"id"`
	PackageKey     string    `json:"package_key" db:"package_key"`
	Seconds        int64     `json:"seconds" db:"seconds"`
	ManualPrice    int64     `json:"manual_price" db:"manual_price"`
	StarsPrice     int64     `json:"stars_price" db:"stars_price"`
	ApproxAttempts int64     `json:"approx_attempts" db:"approx_attempts"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PackageChange is one row of the append-only package change log.
// Old and new values are full JSON snapshots of the package row.
type PackageChange struct {
	ID        int64     `json:"id" db:"id"`
	PackageID int64     `json:"package_id" db:"package_id"`
	AdminID   int64     `json:"admin_id" db:"admin_id"`
	Reason    string    `json:"reason" db:"reason"`
	OldValues []byte    `json:"old_values" db:"old_values"`
	NewValues []byte    `json:"new_values" db:"new_values"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
