package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/models"
)

// LedgerStore appends and reads rows of the append-only credit
// ledger. All balance-affecting operations go through AppendTx inside
// the transaction that mutates the balance row, so a failed operation
// leaves no partial ledger entry.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// AppendTx inserts one ledger entry and returns its id.
func (s *LedgerStore) AppendTx(tx *sql.Tx, e *models.LedgerEntry) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO credit_ledger
		(user_id, event_type, basic_delta_seconds, topup_delta_seconds,
		 charge_seconds, audio_duration_seconds, provider, provider_request_id,
		 admin_id, reason, package_id, amount_stars, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		e.UserID, e.EventType, e.BasicDeltaSec, e.TopupDeltaSec,
		e.ChargeSec, e.AudioDurationSec, e.Provider, e.ProviderRequestID,
		e.AdminID, e.Reason, e.PackageID, e.AmountStars, e.Meta, time.Now().UTC()).Scan(&id)
	return id, err
}

// GetTx loads one ledger entry by id inside an open transaction.
func (s *LedgerStore) GetTx(tx *sql.Tx, id int64) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	err := tx.QueryRow(`
		SELECT id, user_id, event_type, basic_delta_seconds, topup_delta_seconds,
		       charge_seconds, audio_duration_seconds, provider, provider_request_id,
		       admin_id, reason, package_id, amount_stars, created_at
		FROM credit_ledger
		WHERE id = $1`, id).Scan(
		&e.ID, &e.UserID, &e.EventType, &e.BasicDeltaSec, &e.TopupDeltaSec,
		&e.ChargeSec, &e.AudioDurationSec, &e.Provider, &e.ProviderRequestID,
		&e.AdminID, &e.Reason, &e.PackageID, &e.AmountStars, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ChargedSinceTx sums the seconds charged to a user since the given
// instant. Charge entries carry negative basic deltas, so the sum is
// negated to a positive usage figure.
func (s *LedgerStore) ChargedSinceTx(tx *sql.Tx, userID int64, since time.Time) (int64, error) {
	var used int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(-basic_delta_seconds), 0)
		FROM credit_ledger
		WHERE user_id = $1 AND event_type = $2 AND created_at >= $3`,
		userID, models.EventCharge, since).Scan(&used)
	return used, err
}

// RefundExistsTx reports whether a refund entry with the given
// correlation marker has already been written.
func (s *LedgerStore) RefundExistsTx(tx *sql.Tx, requestID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM credit_ledger
			WHERE event_type = $1 AND provider_request_id = $2
		)`, models.EventRefund, requestID).Scan(&exists)
	return exists, err
}

// RecentForUser returns the newest ledger entries for a user, used by
// the history endpoint.
func (s *LedgerStore) RecentForUser(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, basic_delta_seconds, topup_delta_seconds,
		       charge_seconds, audio_duration_seconds, provider, provider_request_id,
		       admin_id, reason, package_id, amount_stars, created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.EventType, &e.BasicDeltaSec, &e.TopupDeltaSec,
			&e.ChargeSec, &e.AudioDurationSec, &e.Provider, &e.ProviderRequestID,
			&e.AdminID, &e.Reason, &e.PackageID, &e.AmountStars, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
