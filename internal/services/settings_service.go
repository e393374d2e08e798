package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// DefaultMonthlyBasicSeconds is the compiled fallback for the monthly
// entitlement when neither the database setting nor config provide one.
const DefaultMonthlyBasicSeconds = 3600

const monthlyLimitSettingKey = "monthly_basic_seconds"

const monthlyLimitCacheKey = "settings:monthly_basic_seconds"

// SettingsService reads and writes globally configured values from
// the app_settings table. The monthly limit is mutable at runtime by
// admins, so the reservation path always reads it fresh inside its
// own transaction; the short-TTL redis cache is for display paths
// only.
type SettingsService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewSettingsService(db *sql.DB, redisClient *redis.Client) *SettingsService {
	viper.SetDefault("credits.monthly_basic_seconds", DefaultMonthlyBasicSeconds)
	return &SettingsService{db: db, redis: redisClient}
}

// MonthlyLimitTx reads the current monthly entitlement inside an open
// transaction. Falls back to the configured default if unset.
func (s *SettingsService) MonthlyLimitTx(tx *sql.Tx) (int64, error) {
	var raw string
	err := tx.QueryRow(`SELECT value FROM app_settings WHERE key = $1`, monthlyLimitSettingKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return s.configuredDefault(), nil
	}
	if err != nil {
		return 0, err
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		log.Printf("[SETTINGS] Malformed monthly limit %q, using default", raw)
		return s.configuredDefault(), nil
	}
	return limit, nil
}

// MonthlyLimit is the display-path read: serves from a short-lived
// redis cache when available, otherwise the database.
func (s *SettingsService) MonthlyLimit(ctx context.Context) (int64, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, monthlyLimitCacheKey).Result(); err == nil {
			if limit, perr := strconv.ParseInt(cached, 10, 64); perr == nil && limit > 0 {
				return limit, nil
			}
		}
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = $1`, monthlyLimitSettingKey).Scan(&raw)
	limit := s.configuredDefault()
	if err == nil {
		if parsed, perr := strconv.ParseInt(raw, 10, 64); perr == nil && parsed > 0 {
			limit = parsed
		}
	} else if err != sql.ErrNoRows {
		return 0, err
	}

	if s.redis != nil {
		s.redis.Set(ctx, monthlyLimitCacheKey, strconv.FormatInt(limit, 10), 30*time.Second)
	}
	return limit, nil
}

// SetMonthlyLimit upserts the monthly entitlement and drops the cache
// so the new value shows up immediately. Enforcement on reservations
// does not depend on the cache.
func (s *SettingsService) SetMonthlyLimit(ctx context.Context, seconds int64, adminID int64) error {
	if seconds <= 0 {
		return fmt.Errorf("monthly limit must be positive, got %d", seconds)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_by = $3, updated_at = NOW()`,
		monthlyLimitSettingKey, strconv.FormatInt(seconds, 10), adminID)
	if err != nil {
		return err
	}

	if s.redis != nil {
		s.redis.Del(ctx, monthlyLimitCacheKey)
	}

	log.Printf("[SETTINGS] Monthly limit set to %ds by admin %d", seconds, adminID)
	return nil
}

func (s *SettingsService) configuredDefault() int64 {
	if v := viper.GetInt64("credits.monthly_basic_seconds"); v > 0 {
		return v
	}
	return DefaultMonthlyBasicSeconds
}
