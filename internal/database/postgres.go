package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "vocab_credits")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// InitDB initializes the database connection
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test connection
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// Migrate creates the engine's tables if they do not exist yet.
// credit_ledger and package_change_log are append-only; balances is
// the per-user mutable projection.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			user_id BIGINT PRIMARY KEY,
			basic_remaining_seconds BIGINT NOT NULL CHECK (basic_remaining_seconds >= 0),
			topup_remaining_seconds BIGINT NOT NULL CHECK (topup_remaining_seconds >= 0),
			next_basic_refill_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_ledger (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			basic_delta_seconds BIGINT NOT NULL DEFAULT 0,
			topup_delta_seconds BIGINT NOT NULL DEFAULT 0,
			charge_seconds BIGINT,
			audio_duration_seconds DOUBLE PRECISION,
			provider TEXT,
			provider_request_id TEXT,
			admin_id BIGINT,
			reason TEXT,
			package_id BIGINT,
			amount_stars BIGINT,
			meta JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_ledger_user_created
			ON credit_ledger (user_id, created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_ledger_refund_marker
			ON credit_ledger (provider_request_id) WHERE event_type = 'refund'`,
		`CREATE TABLE IF NOT EXISTS packages (
			id BIGSERIAL PRIMARY KEY,
			package_key TEXT NOT NULL UNIQUE,
			seconds BIGINT NOT NULL,
			manual_price BIGINT NOT NULL,
			stars_price BIGINT NOT NULL,
			approx_attempts BIGINT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS package_change_log (
			id BIGSERIAL PRIMARY KEY,
			package_id BIGINT NOT NULL REFERENCES packages (id),
			admin_id BIGINT NOT NULL,
			reason TEXT NOT NULL,
			old_values JSONB NOT NULL,
			new_values JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS stars_payments (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			package_id BIGINT NOT NULL REFERENCES packages (id),
			payload TEXT NOT NULL UNIQUE,
			amount_stars BIGINT NOT NULL,
			status TEXT NOT NULL,
			provider_charge_id TEXT,
			raw_update JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			paid_at TIMESTAMPTZ,
			credited_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_by BIGINT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
