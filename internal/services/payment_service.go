package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/viper"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/models"
)

// PaymentService drives the stars-payment settlement state machine:
// pending -> paid -> credited, or pending -> failed. The payload
// token plus the terminal-status check on the locked payment row is
// what makes retried webhook deliveries safe; the balance top-up and
// the status flip to credited always commit or roll back together.
type PaymentService struct {
	db       *sql.DB
	redis    *redis.Client
	ledger   *LedgerStore
	credits  *CreditService
	packages *PackageService
}

const creditedQueueKey = "credited_payments"

func NewPaymentService(db *sql.DB, redisClient *redis.Client, ledger *LedgerStore, credits *CreditService, packages *PackageService) *PaymentService {
	viper.SetDefault("payments.bot_username", "vocab_learning_bot")
	return &PaymentService{db: db, redis: redisClient, ledger: ledger, credits: credits, packages: packages}
}

// CreatePendingPayment opens a purchase attempt against an active
// package and returns the row carrying the provider-visible payload
// token. A stars_payment_pending ledger entry is appended for audit;
// it has no balance effect.
func (s *PaymentService) CreatePendingPayment(ctx context.Context, userID int64, packageKey string) (*models.StarsPayment, error) {
	pkg, err := s.packages.GetByKey(ctx, packageKey)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageInactive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payment := &models.StarsPayment{
		UserID:      userID,
		PackageID:   pkg.ID,
		Payload:     uuid.NewString(),
		AmountStars: pkg.StarsPrice,
		Status:      models.PaymentStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	err = tx.QueryRow(`
		INSERT INTO stars_payments (user_id, package_id, payload, amount_stars, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		payment.UserID, payment.PackageID, payment.Payload, payment.AmountStars,
		payment.Status, payment.CreatedAt).Scan(&payment.ID)
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:            userID,
		EventType:         models.EventStarsPaymentPending,
		ProviderRequestID: sql.NullString{String: payment.Payload, Valid: true},
		PackageID:         sql.NullInt64{Int64: pkg.ID, Valid: true},
		AmountStars:       sql.NullInt64{Int64: pkg.StarsPrice, Valid: true},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[PAYMENT] Pending payment %s created for user %d, package %s (%d stars)",
		payment.Payload, userID, packageKey, pkg.StarsPrice)
	return payment, nil
}

// GetByPayload loads a payment by its idempotency token.
func (s *PaymentService) GetByPayload(ctx context.Context, payload string) (*models.StarsPayment, error) {
	p := &models.StarsPayment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, package_id, payload, amount_stars, status, provider_charge_id, created_at, paid_at, credited_at
		FROM stars_payments
		WHERE payload = $1`, payload).Scan(
		&p.ID, &p.UserID, &p.PackageID, &p.Payload, &p.AmountStars, &p.Status,
		&p.ProviderChargeID, &p.CreatedAt, &p.PaidAt, &p.CreditedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MarkFailed moves a payment to its failure terminal state and stores
// the raw provider update for audit. A payment that already reached
// credited is left untouched; success is sticky.
func (s *PaymentService) MarkFailed(ctx context.Context, payload string, rawUpdate []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM stars_payments WHERE payload = $1 FOR UPDATE`, payload).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == models.PaymentStatusCredited {
		log.Printf("[PAYMENT] Ignoring failure report for credited payment %s", payload)
		return nil
	}

	_, err = tx.Exec(`
		UPDATE stars_payments SET status = $1, raw_update = $2 WHERE payload = $3`,
		models.PaymentStatusFailed, rawUpdate, payload)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[PAYMENT] Payment %s marked failed", payload)
	return nil
}

// CreditPaidPayment settles a confirmed payment exactly once: inside
// one transaction it locks the payment row, returns early if it is
// already credited, promotes it to paid, grants the package seconds
// and flips the status to credited. A crash anywhere in between rolls
// the whole step back, so a webhook retry or the reprocessing sweep
// can safely run it again. Returns the seconds credited, or
// ErrAlreadyCredited (which webhook callers must treat as success).
func (s *PaymentService) CreditPaidPayment(ctx context.Context, payload, providerChargeID string, rawUpdate []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	p := &models.StarsPayment{}
	err = tx.QueryRow(`
		SELECT id, user_id, package_id, payload, amount_stars, status
		FROM stars_payments
		WHERE payload = $1
		FOR UPDATE`, payload).Scan(
		&p.ID, &p.UserID, &p.PackageID, &p.Payload, &p.AmountStars, &p.Status)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	if p.Status == models.PaymentStatusCredited {
		log.Printf("[PAYMENT] Payment %s already credited, nothing to do", payload)
		return 0, ErrAlreadyCredited
	}
	if p.Status == models.PaymentStatusFailed {
		return 0, fmt.Errorf("payment %s is in terminal failed state", payload)
	}

	now := time.Now().UTC()
	if p.Status == models.PaymentStatusPending {
		_, err = tx.Exec(`
			UPDATE stars_payments
			SET status = $1, provider_charge_id = $2, paid_at = $3, raw_update = $4
			WHERE id = $5`,
			models.PaymentStatusPaid, providerChargeID, now, rawUpdate, p.ID)
		if err != nil {
			return 0, err
		}
	}

	pkg, err := s.packages.getTx(tx, p.PackageID)
	if err != nil {
		return 0, err
	}

	err = s.credits.addTopupTx(tx, p.UserID, TopupGrant{
		Seconds:     pkg.Seconds,
		Reason:      "stars_purchase",
		Provider:    "telegram_stars",
		PackageID:   pkg.ID,
		AmountStars: p.AmountStars,
		RequestID:   payload,
	})
	if err != nil {
		return 0, err
	}

	_, err = s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:            p.UserID,
		EventType:         models.EventStarsPaymentSuccess,
		ProviderRequestID: sql.NullString{String: payload, Valid: true},
		PackageID:         sql.NullInt64{Int64: pkg.ID, Valid: true},
		AmountStars:       sql.NullInt64{Int64: p.AmountStars, Valid: true},
	})
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(`
		UPDATE stars_payments SET status = $1, credited_at = $2 WHERE id = $3`,
		models.PaymentStatusCredited, now, p.ID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.notifyCredited(ctx, p.UserID, payload, pkg.Seconds)
	log.Printf("[PAYMENT] Payment %s credited: %ds to user %d", payload, pkg.Seconds, p.UserID)
	return pkg.Seconds, nil
}

// ReprocessPaid sweeps payments stuck in "paid", where a process died
// after the provider confirmed the charge but before crediting, and
// pushes each through the normal crediting path. Rows younger than
// the grace window are skipped to avoid racing an in-flight webhook.
func (s *PaymentService) ReprocessPaid(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM stars_payments
		WHERE status = $1 AND paid_at < $2
		ORDER BY paid_at ASC`,
		models.PaymentStatusPaid, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	payloads := []string{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return 0, err
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	credited := 0
	for _, payload := range payloads {
		if _, err := s.CreditPaidPayment(ctx, payload, "", nil); err != nil {
			if err == ErrAlreadyCredited {
				continue
			}
			log.Printf("[PAYMENT] Reprocess of %s failed: %v", payload, err)
			continue
		}
		credited++
	}

	if credited > 0 {
		log.Printf("[PAYMENT] Reprocessed %d stuck paid payment(s)", credited)
	}
	return credited, nil
}

// PaymentQR renders the bot deep link for a pending payment as a
// base64 PNG, for display outside the chat.
func (s *PaymentService) PaymentQR(ctx context.Context, payload string) (string, error) {
	if _, err := s.GetByPayload(ctx, payload); err != nil {
		return "", err
	}

	deepLink := fmt.Sprintf("https://t.me/%s?start=pay_%s", viper.GetString("payments.bot_username"), payload)
	qr, err := qrcode.New(deepLink, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// notifyCredited enqueues a post-commit notification for the bot to
// pick up. Best effort; settlement never depends on redis.
func (s *PaymentService) notifyCredited(ctx context.Context, userID int64, payload string, seconds int64) {
	if s.redis == nil {
		return
	}
	event, err := json.Marshal(map[string]any{
		"user_id": userID,
		"payload": payload,
		"seconds": seconds,
	})
	if err != nil {
		return
	}
	if err := s.redis.RPush(ctx, creditedQueueKey, event).Err(); err != nil {
		log.Printf("[PAYMENT] Failed to enqueue credited notification for %s: %v", payload, err)
	}
}
