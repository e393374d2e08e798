package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestPackageService_ListActive(t *testing.T) {
	t.Run("returns active packages in size order", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		rows := sqlmock.NewRows([]string{
			"id", "package_key", "seconds", "manual_price", "stars_price", "approx_attempts", "is_active", "created_at", "updated_at",
		}).
			AddRow(1, "p300", 300, 9000, 150, 20, true, time.Now(), time.Now()).
			AddRow(2, "p600", 600, 15000, 250, 40, true, time.Now(), time.Now())
		mock.ExpectQuery("SELECT id, package_key").WillReturnRows(rows)

		pkgs, err := service.ListActive(context.Background())
		assert.NoError(t, err)
		assert.Len(t, pkgs, 2)
		assert.Equal(t, "p300", pkgs[0].PackageKey)
		assert.Equal(t, int64(600), pkgs[1].Seconds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no active packages yields an empty list", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		mock.ExpectQuery("SELECT id, package_key").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "package_key", "seconds", "manual_price", "stars_price", "approx_attempts", "is_active", "created_at", "updated_at",
			}))

		pkgs, err := service.ListActive(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, pkgs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPackageService_GetByKey(t *testing.T) {
	t.Run("unknown key is reported", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		mock.ExpectQuery("SELECT id, package_key").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err = service.GetByKey(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPackageService_UpdatePackage(t *testing.T) {
	t.Run("applies the update and writes a change-log row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, package_key").
			WithArgs("p600").
			WillReturnRows(packageRows(3, "p600", 600, 250, true))
		mock.ExpectExec(`UPDATE packages\s+SET seconds`).
			WithArgs(int64(900), int64(15000), int64(300), int64(60), true, sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO package_change_log").
			WithArgs(int64(3), int64(7), "seasonal price change", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		pkg, err := service.UpdatePackage(context.Background(), "p600", PackageUpdate{
			Seconds:    int64Ptr(900),
			StarsPrice: int64Ptr(300),
			AdminID:    7,
			Reason:     "seasonal price change",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(900), pkg.Seconds)
		assert.Equal(t, int64(300), pkg.StarsPrice)
		// 900s at 15s per attempt.
		assert.Equal(t, int64(60), pkg.ApproxAttempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deactivation alone is still logged", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, package_key").
			WithArgs("p600").
			WillReturnRows(packageRows(3, "p600", 600, 250, true))
		mock.ExpectExec(`UPDATE packages\s+SET seconds`).
			WithArgs(int64(600), int64(15000), int64(250), int64(40), false, sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO package_change_log").
			WithArgs(int64(3), int64(7), "retiring package", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		pkg, err := service.UpdatePackage(context.Background(), "p600", PackageUpdate{
			IsActive: boolPtr(false),
			AdminID:  7,
			Reason:   "retiring package",
		})
		assert.NoError(t, err)
		assert.False(t, pkg.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects out-of-bounds values before touching the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		_, err = service.UpdatePackage(context.Background(), "p600", PackageUpdate{
			Seconds: int64Ptr(-5),
			AdminID: 7,
			Reason:  "bad",
		})
		assert.Error(t, err)

		_, err = service.UpdatePackage(context.Background(), "p600", PackageUpdate{
			StarsPrice: int64Ptr(2000000),
			AdminID:    7,
			Reason:     "bad",
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires an admin and a reason", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		_, err = service.UpdatePackage(context.Background(), "p600", PackageUpdate{
			Seconds: int64Ptr(900),
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown package is reported", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPackageService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, package_key").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err = service.UpdatePackage(context.Background(), "nope", PackageUpdate{
			Seconds: int64Ptr(900),
			AdminID: 7,
			Reason:  "resize",
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
