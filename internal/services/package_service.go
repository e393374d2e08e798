package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/models"
)

// PackageUpdate carries the fields of a package mutation; nil fields
// are left untouched. Bounds mirror the admin-side sanity limits.
type PackageUpdate struct {
	Seconds     *int64 `json:"seconds,omitempty" validate:"omitempty,gt=0,lte=1000000"`
	ManualPrice *int64 `json:"manual_price,omitempty" validate:"omitempty,gt=0,lte=10000000"`
	StarsPrice  *int64 `json:"stars_price,omitempty" validate:"omitempty,gt=0,lte=100000"`
	IsActive    *bool  `json:"is_active,omitempty"`
	AdminID     int64  `json:"admin_id" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

// PackageService manages purchasable top-up packages. Every mutation,
// price edits and active toggles alike, goes through UpdatePackage so
// the change log captures all of them.
type PackageService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewPackageService(db *sql.DB) *PackageService {
	viper.SetDefault("credits.seconds_per_attempt", 15)
	return &PackageService{db: db, validator: NewValidationHelper()}
}

// ListActive returns the purchasable packages in display order.
func (s *PackageService) ListActive(ctx context.Context) ([]models.Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_key, seconds, manual_price, stars_price, approx_attempts, is_active, created_at, updated_at
		FROM packages
		WHERE is_active = TRUE
		ORDER BY seconds ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pkgs := []models.Package{}
	for rows.Next() {
		var p models.Package
		if err := rows.Scan(&p.ID, &p.PackageKey, &p.Seconds, &p.ManualPrice, &p.StarsPrice,
			&p.ApproxAttempts, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// GetByKey loads one package by its stable short code.
func (s *PackageService) GetByKey(ctx context.Context, key string) (*models.Package, error) {
	p := &models.Package{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, package_key, seconds, manual_price, stars_price, approx_attempts, is_active, created_at, updated_at
		FROM packages
		WHERE package_key = $1`, key).Scan(
		&p.ID, &p.PackageKey, &p.Seconds, &p.ManualPrice, &p.StarsPrice,
		&p.ApproxAttempts, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PackageService) getTx(tx *sql.Tx, id int64) (*models.Package, error) {
	p := &models.Package{}
	err := tx.QueryRow(`
		SELECT id, package_key, seconds, manual_price, stars_price, approx_attempts, is_active, created_at, updated_at
		FROM packages
		WHERE id = $1`, id).Scan(
		&p.ID, &p.PackageKey, &p.Seconds, &p.ManualPrice, &p.StarsPrice,
		&p.ApproxAttempts, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePackage applies a partial mutation under the package row lock
// and appends a change-log row with full old/new snapshots.
func (s *PackageService) UpdatePackage(ctx context.Context, key string, upd PackageUpdate) (*models.Package, error) {
	if err := s.validator.ValidateStruct(&upd); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p := &models.Package{}
	err = tx.QueryRow(`
		SELECT id, package_key, seconds, manual_price, stars_price, approx_attempts, is_active, created_at, updated_at
		FROM packages
		WHERE package_key = $1
		FOR UPDATE`, key).Scan(
		&p.ID, &p.PackageKey, &p.Seconds, &p.ManualPrice, &p.StarsPrice,
		&p.ApproxAttempts, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	oldValues, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	if upd.Seconds != nil {
		p.Seconds = *upd.Seconds
	}
	if upd.ManualPrice != nil {
		p.ManualPrice = *upd.ManualPrice
	}
	if upd.StarsPrice != nil {
		p.StarsPrice = *upd.StarsPrice
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	p.ApproxAttempts = approxAttempts(p.Seconds)
	p.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(`
		UPDATE packages
		SET seconds = $1, manual_price = $2, stars_price = $3, approx_attempts = $4, is_active = $5, updated_at = $6
		WHERE id = $7`,
		p.Seconds, p.ManualPrice, p.StarsPrice, p.ApproxAttempts, p.IsActive, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, err
	}

	newValues, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO package_change_log (package_id, admin_id, reason, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, upd.AdminID, upd.Reason, oldValues, newValues, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[PACKAGE] Package %s updated by admin %d: %q", key, upd.AdminID, upd.Reason)
	return p, nil
}

// approxAttempts is the display estimate of recognition attempts a
// package is worth, from the configured average attempt length.
func approxAttempts(seconds int64) int64 {
	per := viper.GetInt64("credits.seconds_per_attempt")
	if per <= 0 {
		per = 15
	}
	return seconds / per
}
