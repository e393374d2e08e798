package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func newBalanceFixture(db *sql.DB) *BalanceService {
	ledger := NewLedgerStore(db)
	settings := NewSettingsService(db, nil)
	return NewBalanceService(db, ledger, settings)
}

func TestBalanceService_GetOrCreate(t *testing.T) {
	t.Run("creates a missing balance with the full entitlement", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newBalanceFixture(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, basic_remaining_seconds").
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT value FROM app_settings").
			WillReturnRows(settingRows("3000"))
		mock.ExpectExec("INSERT INTO balances").
			WithArgs(int64(42), int64(3000), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("INSERT INTO credit_ledger").
			WillReturnRows(ledgerIDRows(1))
		mock.ExpectCommit()

		bal, err := service.GetOrCreate(context.Background(), 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(3000), bal.BasicRemainingSec)
		assert.Equal(t, int64(0), bal.TopupRemainingSec)
		assert.True(t, bal.NextBasicRefillAt.After(time.Now()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns an existing balance untouched before the boundary", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newBalanceFixture(db)

		future := time.Now().Add(5 * 24 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, basic_remaining_seconds").
			WithArgs(int64(42)).
			WillReturnRows(balanceRows(42, 120, 30, future))
		mock.ExpectCommit()

		bal, err := service.GetOrCreate(context.Background(), 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(120), bal.BasicRemainingSec)
		assert.Equal(t, int64(30), bal.TopupRemainingSec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resets the entitlement once the boundary has passed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newBalanceFixture(db)

		past := time.Now().Add(-40 * 24 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, basic_remaining_seconds").
			WithArgs(int64(42)).
			WillReturnRows(balanceRows(42, 7, 250, past))
		mock.ExpectQuery("SELECT value FROM app_settings").
			WillReturnRows(settingRows("3000"))
		mock.ExpectExec(`UPDATE balances\s+SET basic_remaining_seconds`).
			WithArgs(int64(3000), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO credit_ledger").
			WillReturnRows(ledgerIDRows(2))
		mock.ExpectCommit()

		bal, err := service.GetOrCreate(context.Background(), 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(3000), bal.BasicRemainingSec)
		// Topup credit never expires with the month.
		assert.Equal(t, int64(250), bal.TopupRemainingSec)
		assert.True(t, bal.NextBasicRefillAt.After(time.Now()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBalanceService_ProfileSummary(t *testing.T) {
	t.Run("reports usage and the current cap", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newBalanceFixture(db)

		future := time.Now().Add(5 * 24 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, basic_remaining_seconds").
			WithArgs(int64(42)).
			WillReturnRows(balanceRows(42, 400, 90, future))
		mock.ExpectQuery("SELECT value FROM app_settings").
			WillReturnRows(settingRows("500"))
		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(100))
		mock.ExpectCommit()

		summary, err := service.ProfileSummary(context.Background(), 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(400), summary.BasicRemainingSec)
		assert.Equal(t, int64(90), summary.TopupRemainingSec)
		assert.Equal(t, int64(100), summary.UsedThisMonthSec)
		assert.Equal(t, int64(500), summary.MonthlyCapSec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clamps an over-cap entitlement before reporting", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newBalanceFixture(db)

		future := time.Now().Add(5 * 24 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, basic_remaining_seconds").
			WithArgs(int64(42)).
			WillReturnRows(balanceRows(42, 3000, 0, future))
		mock.ExpectQuery("SELECT value FROM app_settings").
			WillReturnRows(settingRows("600"))
		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(200))
		mock.ExpectExec(`UPDATE balances\s+SET basic_remaining_seconds`).
			WithArgs(int64(400), sqlmock.AnyArg(), int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		summary, err := service.ProfileSummary(context.Background(), 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(400), summary.BasicRemainingSec)
		assert.Equal(t, int64(600), summary.MonthlyCapSec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBalanceService_RefillBoundaries(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := newBalanceFixture(db)

	t.Run("next boundary is the first of the following month", func(t *testing.T) {
		now := time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), service.NextRefillBoundary(now))
	})

	t.Run("december rolls over into january", func(t *testing.T) {
		now := time.Date(2025, time.December, 20, 23, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), service.NextRefillBoundary(now))
	})

	t.Run("month start is midnight on the first", func(t *testing.T) {
		now := time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), service.MonthStart(now))
	})

	t.Run("boundaries follow the configured timezone", func(t *testing.T) {
		viper.Set("app.timezone", "Asia/Tashkent")
		defer viper.Set("app.timezone", "UTC")
		tzService := newBalanceFixture(db)

		// 2026-03-31 20:00 UTC is already April 1st in Tashkent (UTC+5),
		// so the next boundary is May 1st local midnight.
		now := time.Date(2026, time.March, 31, 20, 0, 0, 0, time.UTC)
		tashkent, err := time.LoadLocation("Asia/Tashkent")
		assert.NoError(t, err)
		assert.Equal(t,
			time.Date(2026, time.May, 1, 0, 0, 0, 0, tashkent).UTC(),
			tzService.NextRefillBoundary(now))
	})
}
