package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/models"
)

// CreditService is the reservation/charge engine: it answers "may
// this user spend N seconds right now" and records the spend, plus
// the inverse operations (refund, top-up). Deduction order is always
// entitlement first, then purchased credit, so topup seconds only
// start draining once the monthly allotment is gone.
type CreditService struct {
	db       *sql.DB
	ledger   *LedgerStore
	balances *BalanceService
}

// ReserveResult identifies the charge for a later refund.
type ReserveResult struct {
	LedgerID      int64 `json:"ledger_id"`
	ChargeSec     int64 `json:"charge_seconds"`
	BasicDeltaSec int64 `json:"basic_delta_seconds"`
	TopupDeltaSec int64 `json:"topup_delta_seconds"`
}

func NewCreditService(db *sql.DB, ledger *LedgerStore, balances *BalanceService) *CreditService {
	return &CreditService{db: db, ledger: ledger, balances: balances}
}

// MaxAudioDurationSeconds bounds a single chargeable attempt. No real
// recognition request carries a day of audio; anything larger is a
// caller bug, and converting such a float to int64 would overflow.
const MaxAudioDurationSeconds = 86400

// ChargeSeconds converts an audio duration to billable whole seconds:
// any positive duration is rounded up and charged at least 1 second.
// Durations outside (0, MaxAudioDurationSeconds] are rejected.
func ChargeSeconds(audioDuration float64) (int64, error) {
	if audioDuration <= 0 || audioDuration > MaxAudioDurationSeconds {
		return 0, ErrInvalidDuration
	}
	charge := int64(math.Ceil(audioDuration))
	if charge < 1 {
		charge = 1
	}
	return charge, nil
}

// Reserve deducts the charge for one recognition attempt. Refill,
// cap clamp, deduction and ledger append all run in a single
// transaction holding the balance row lock, so either all of it
// commits or none.
func (s *CreditService) Reserve(ctx context.Context, userID int64, audioDuration float64, provider string) (*ReserveResult, error) {
	charge, err := ChargeSeconds(audioDuration)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	bal, err := s.balances.lockBalanceTx(tx, userID, now)
	if err != nil {
		return nil, err
	}
	if err := s.balances.applyRefillTx(tx, bal, now); err != nil {
		return nil, err
	}
	if _, _, err := s.balances.clampToCapTx(tx, bal, now); err != nil {
		return nil, err
	}

	if bal.BasicRemainingSec+bal.TopupRemainingSec < charge {
		return nil, &InsufficientCreditError{
			BasicRemainingSec: bal.BasicRemainingSec,
			TopupRemainingSec: bal.TopupRemainingSec,
			RequiredSec:       charge,
		}
	}

	basicDelta := charge
	if basicDelta > bal.BasicRemainingSec {
		basicDelta = bal.BasicRemainingSec
	}
	topupDelta := charge - basicDelta

	bal.BasicRemainingSec -= basicDelta
	bal.TopupRemainingSec -= topupDelta
	bal.UpdatedAt = now

	_, err = tx.Exec(`
		UPDATE balances
		SET basic_remaining_seconds = $1, topup_remaining_seconds = $2, updated_at = $3
		WHERE user_id = $4`,
		bal.BasicRemainingSec, bal.TopupRemainingSec, now, userID)
	if err != nil {
		return nil, err
	}

	ledgerID, err := s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:           userID,
		EventType:        models.EventCharge,
		BasicDeltaSec:    -basicDelta,
		TopupDeltaSec:    -topupDelta,
		ChargeSec:        sql.NullInt64{Int64: charge, Valid: true},
		AudioDurationSec: sql.NullFloat64{Float64: audioDuration, Valid: true},
		Provider:         sql.NullString{String: provider, Valid: provider != ""},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[CREDITS] Charged user %d %ds (basic %d, topup %d), ledger %d",
		userID, charge, basicDelta, topupDelta, ledgerID)
	return &ReserveResult{
		LedgerID:      ledgerID,
		ChargeSec:     charge,
		BasicDeltaSec: -basicDelta,
		TopupDeltaSec: -topupDelta,
	}, nil
}

// refundMarker is the correlation value that makes a refund for a
// given charge detectable on re-delivery.
func refundMarker(ledgerID int64) string {
	return fmt.Sprintf("refund-%d", ledgerID)
}

// Refund reverses a prior charge, exactly once. A second call with
// the same ledger id is a no-op, as is a call against an entry that
// is not a charge. Refunded seconds go back to the same fields they
// were taken from; no cap clamp runs here, a clamp only ever reduces
// and a refund is a grant.
func (s *CreditService) Refund(ctx context.Context, ledgerID int64, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	orig, err := s.ledger.GetTx(tx, ledgerID)
	if err == ErrNotFound {
		log.Printf("[CREDITS] Refund requested for unknown ledger entry %d", ledgerID)
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if orig.EventType != models.EventCharge {
		log.Printf("[CREDITS] Refund requested for non-charge ledger entry %d (%s), skipping", ledgerID, orig.EventType)
		return nil
	}

	now := time.Now().UTC()
	bal, err := s.balances.lockBalanceTx(tx, orig.UserID, now)
	if err != nil {
		return err
	}

	// The duplicate check must run under the balance row lock: a
	// concurrent refund of the same charge serializes on the lock and
	// sees this transaction's committed refund entry when it resumes.
	done, err := s.ledger.RefundExistsTx(tx, refundMarker(ledgerID))
	if err != nil {
		return err
	}
	if done {
		log.Printf("[CREDITS] Refund for ledger %d already processed, skipping", ledgerID)
		return nil
	}

	basicBack := -orig.BasicDeltaSec
	topupBack := -orig.TopupDeltaSec
	bal.BasicRemainingSec += basicBack
	bal.TopupRemainingSec += topupBack

	_, err = tx.Exec(`
		UPDATE balances
		SET basic_remaining_seconds = $1, topup_remaining_seconds = $2, updated_at = $3
		WHERE user_id = $4`,
		bal.BasicRemainingSec, bal.TopupRemainingSec, now, orig.UserID)
	if err != nil {
		return err
	}

	_, err = s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:            orig.UserID,
		EventType:         models.EventRefund,
		BasicDeltaSec:     basicBack,
		TopupDeltaSec:     topupBack,
		ProviderRequestID: sql.NullString{String: refundMarker(ledgerID), Valid: true},
		Reason:            sql.NullString{String: reason, Valid: reason != ""},
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[CREDITS] Refunded ledger %d for user %d (basic %+d, topup %+d)",
		ledgerID, orig.UserID, basicBack, topupBack)
	return nil
}

// TopupGrant describes the origin of a top-up for the ledger.
type TopupGrant struct {
	Seconds     int64
	ActorID     int64
	Reason      string
	Provider    string
	PackageID   int64
	AmountStars int64
	RequestID   string
}

// AddTopup grants non-expiring credit in its own transaction.
func (s *CreditService) AddTopup(ctx context.Context, userID int64, grant TopupGrant) error {
	if grant.Seconds <= 0 {
		return ErrInvalidTopup
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.addTopupTx(tx, userID, grant); err != nil {
		return err
	}
	return tx.Commit()
}

// addTopupTx is the shared grant path, also invoked from payment
// settlement inside its transaction. The due refill is applied before
// the increment so a stale entitlement reset cannot overwrite credit
// being added.
func (s *CreditService) addTopupTx(tx *sql.Tx, userID int64, grant TopupGrant) error {
	if grant.Seconds <= 0 {
		return ErrInvalidTopup
	}

	now := time.Now().UTC()
	bal, err := s.balances.lockBalanceTx(tx, userID, now)
	if err != nil {
		return err
	}
	if err := s.balances.applyRefillTx(tx, bal, now); err != nil {
		return err
	}

	bal.TopupRemainingSec += grant.Seconds
	_, err = tx.Exec(`
		UPDATE balances SET topup_remaining_seconds = $1, updated_at = $2 WHERE user_id = $3`,
		bal.TopupRemainingSec, now, userID)
	if err != nil {
		return err
	}

	_, err = s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:            userID,
		EventType:         models.EventTopupAdd,
		TopupDeltaSec:     grant.Seconds,
		Provider:          sql.NullString{String: grant.Provider, Valid: grant.Provider != ""},
		ProviderRequestID: sql.NullString{String: grant.RequestID, Valid: grant.RequestID != ""},
		AdminID:           sql.NullInt64{Int64: grant.ActorID, Valid: grant.ActorID != 0},
		Reason:            sql.NullString{String: grant.Reason, Valid: grant.Reason != ""},
		PackageID:         sql.NullInt64{Int64: grant.PackageID, Valid: grant.PackageID != 0},
		AmountStars:       sql.NullInt64{Int64: grant.AmountStars, Valid: grant.AmountStars != 0},
	})
	if err != nil {
		return err
	}

	log.Printf("[CREDITS] Topup %+ds for user %d (actor %d, reason %q)",
		grant.Seconds, userID, grant.ActorID, grant.Reason)
	return nil
}
