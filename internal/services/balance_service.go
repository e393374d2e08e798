package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/models"
)

// BalanceService owns the per-user balance projection and the monthly
// refill policy. Every mutation locks the user's balance row with
// SELECT ... FOR UPDATE, which serializes all credit operations for
// one user without blocking others.
type BalanceService struct {
	db       *sql.DB
	ledger   *LedgerStore
	settings *SettingsService
	loc      *time.Location
}

func NewBalanceService(db *sql.DB, ledger *LedgerStore, settings *SettingsService) *BalanceService {
	viper.SetDefault("app.timezone", "UTC")
	loc, err := time.LoadLocation(viper.GetString("app.timezone"))
	if err != nil {
		log.Printf("[CREDITS] Unknown timezone %q, falling back to UTC", viper.GetString("app.timezone"))
		loc = time.UTC
	}
	return &BalanceService{db: db, ledger: ledger, settings: settings, loc: loc}
}

// lockBalanceTx acquires the row lock on a user's balance, creating
// the row with a full initial entitlement if it does not exist yet.
// Creation appends a basic_refill ledger entry with reason "initial".
func (s *BalanceService) lockBalanceTx(tx *sql.Tx, userID int64, now time.Time) (*models.Balance, error) {
	bal := &models.Balance{UserID: userID}
	err := tx.QueryRow(`
		SELECT user_id, basic_remaining_seconds, topup_remaining_seconds, next_basic_refill_at, updated_at
		FROM balances
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(
		&bal.UserID, &bal.BasicRemainingSec, &bal.TopupRemainingSec, &bal.NextBasicRefillAt, &bal.UpdatedAt)
	if err == nil {
		return bal, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	limit, err := s.settings.MonthlyLimitTx(tx)
	if err != nil {
		return nil, err
	}

	bal.BasicRemainingSec = limit
	bal.TopupRemainingSec = 0
	bal.NextBasicRefillAt = s.NextRefillBoundary(now)
	bal.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO balances (user_id, basic_remaining_seconds, topup_remaining_seconds, next_basic_refill_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, bal.BasicRemainingSec, bal.TopupRemainingSec, bal.NextBasicRefillAt, bal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:        userID,
		EventType:     models.EventBasicRefill,
		BasicDeltaSec: limit,
		Reason:        sql.NullString{String: "initial", Valid: true},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CREDITS] Created balance for user %d with %ds entitlement", userID, limit)
	return bal, nil
}

// applyRefillTx resets the monthly entitlement if the refill boundary
// has passed. The boundary advances to the first instant of the month
// following "now", so several missed months collapse into one refill.
func (s *BalanceService) applyRefillTx(tx *sql.Tx, bal *models.Balance, now time.Time) error {
	if now.Before(bal.NextBasicRefillAt) {
		return nil
	}

	limit, err := s.settings.MonthlyLimitTx(tx)
	if err != nil {
		return err
	}

	delta := limit - bal.BasicRemainingSec
	bal.BasicRemainingSec = limit
	bal.NextBasicRefillAt = s.NextRefillBoundary(now)
	bal.UpdatedAt = now

	_, err = tx.Exec(`
		UPDATE balances
		SET basic_remaining_seconds = $1, next_basic_refill_at = $2, updated_at = $3
		WHERE user_id = $4`,
		bal.BasicRemainingSec, bal.NextBasicRefillAt, bal.UpdatedAt, bal.UserID)
	if err != nil {
		return err
	}

	_, err = s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:        bal.UserID,
		EventType:     models.EventBasicRefill,
		BasicDeltaSec: delta,
		Reason:        sql.NullString{String: "monthly", Valid: true},
	})
	if err != nil {
		return err
	}

	log.Printf("[CREDITS] Monthly refill for user %d: entitlement reset to %ds (delta %+d)", bal.UserID, limit, delta)
	return nil
}

// clampToCapTx enforces the mutable global monthly cap: the stored
// entitlement is reduced to cap − used_this_month whenever it exceeds
// that bound. The clamp only ever lowers the value and is logged but
// not ledgered. Returns the cap and the seconds used this month.
func (s *BalanceService) clampToCapTx(tx *sql.Tx, bal *models.Balance, now time.Time) (int64, int64, error) {
	cap, err := s.settings.MonthlyLimitTx(tx)
	if err != nil {
		return 0, 0, err
	}

	used, err := s.ledger.ChargedSinceTx(tx, bal.UserID, s.MonthStart(now))
	if err != nil {
		return 0, 0, err
	}

	allowed := cap - used
	if allowed < 0 {
		allowed = 0
	}

	if bal.BasicRemainingSec > allowed {
		log.Printf("[CREDITS] Clamping user %d entitlement %ds -> %ds (cap %ds, used %ds)",
			bal.UserID, bal.BasicRemainingSec, allowed, cap, used)
		bal.BasicRemainingSec = allowed
		bal.UpdatedAt = now
		_, err = tx.Exec(`
			UPDATE balances SET basic_remaining_seconds = $1, updated_at = $2 WHERE user_id = $3`,
			allowed, now, bal.UserID)
		if err != nil {
			return 0, 0, err
		}
	}

	return cap, used, nil
}

// GetOrCreate returns the user's balance with any due refill applied,
// in its own transaction.
func (s *BalanceService) GetOrCreate(ctx context.Context, userID int64) (*models.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	bal, err := s.lockBalanceTx(tx, userID, now)
	if err != nil {
		return nil, err
	}
	if err := s.applyRefillTx(tx, bal, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return bal, nil
}

// ProfileSummary assembles the profile read model: current balances,
// next refill instant, usage this month and the current cap. The cap
// clamp runs here too so the profile never shows an over-cap value.
func (s *BalanceService) ProfileSummary(ctx context.Context, userID int64) (*models.ProfileSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	bal, err := s.lockBalanceTx(tx, userID, now)
	if err != nil {
		return nil, err
	}
	if err := s.applyRefillTx(tx, bal, now); err != nil {
		return nil, err
	}
	cap, used, err := s.clampToCapTx(tx, bal, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.ProfileSummary{
		UserID:            userID,
		BasicRemainingSec: bal.BasicRemainingSec,
		TopupRemainingSec: bal.TopupRemainingSec,
		NextBasicRefillAt: bal.NextBasicRefillAt,
		UsedThisMonthSec:  used,
		MonthlyCapSec:     cap,
	}, nil
}

// NextRefillBoundary is the first instant of the calendar month after
// "now" in the configured timezone, stored as UTC.
func (s *BalanceService) NextRefillBoundary(now time.Time) time.Time {
	local := now.In(s.loc)
	return time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, s.loc).UTC()
}

// MonthStart is the first instant of the current calendar month in
// the configured timezone, as UTC.
func (s *BalanceService) MonthStart(now time.Time) time.Time {
	local := now.In(s.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc).UTC()
}
