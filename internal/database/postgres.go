package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/sirupsen/logrus"
)

const paymentStatesSchema = `
CREATE TABLE IF NOT EXISTS payment_states (
	id               BIGSERIAL PRIMARY KEY,
	transaction_id   TEXT        NOT NULL,
	from_status      TEXT        NOT NULL,
	to_status        TEXT        NOT NULL,
	ledger_reference TEXT        NOT NULL DEFAULT '',
	detail           TEXT        NOT NULL DEFAULT '',
	trigger          TEXT        NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payment_states_tx ON payment_states (transaction_id, id);
`

// ConnString builds the lib/pq DSN
func ConnString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

// InitDB opens the history database and applies the schema
func InitDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test connection
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithField("database", cfg.Name).Info("Database connection established")
	return db, nil
}

// Migrate creates the transition log table if it does not exist
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(paymentStatesSchema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}
