package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	sqlite "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
	sqlite3 "modernc.org/sqlite/lib"
)

// NewSQLiteStore opens (or creates) the settlement store in a SQLite file.
// Pass ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive; required for :memory:

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteStore] Initialized with database: %s", dbPath)
	return &SQLStore{
		db: db,
		dialect: dialect{
			name:              "sqlite",
			serialize:         true,
			isUniqueViolation: isSQLiteUniqueViolation,
		},
	}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_webhooks (
	tx_id TEXT PRIMARY KEY,
	buyer_identity TEXT NOT NULL DEFAULT '',
	asset_id TEXT NOT NULL DEFAULT '',
	reservation_id TEXT,
	event_type TEXT NOT NULL,
	settlement_path TEXT NOT NULL,
	processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS purchase_status (
	tx_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	status_rank INTEGER NOT NULL,
	buyer_identity TEXT NOT NULL DEFAULT '',
	asset_id TEXT NOT NULL DEFAULT '',
	amount INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	buyer_identity TEXT NOT NULL,
	product_id TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	tx_id TEXT,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	completed_at DATETIME,
	UNIQUE (product_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS idx_reservations_buyer_status ON reservations(buyer_identity, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_tx ON reservations(tx_id);
CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON reservations(status, expires_at);

CREATE TABLE IF NOT EXISTS inventory_units (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	unit_number INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	buyer_identity TEXT,
	tx_id TEXT,
	sold_at DATETIME
);

CREATE TABLE IF NOT EXISTS claims (
	id TEXT PRIMARY KEY,
	buyer_identity TEXT NOT NULL,
	tx_id TEXT NOT NULL,
	asset_name TEXT NOT NULL DEFAULT '',
	asset_id TEXT NOT NULL,
	metadata TEXT,
	claimed_at DATETIME NOT NULL,
	UNIQUE (tx_id, asset_id)
);
CREATE INDEX IF NOT EXISTS idx_claims_buyer ON claims(buyer_identity, claimed_at);

CREATE TABLE IF NOT EXISTS anomalies (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	tx_id TEXT NOT NULL,
	buyer_identity TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	retryable BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE (tx_id, kind, subject)
);
CREATE INDEX IF NOT EXISTS idx_anomalies_created ON anomalies(created_at);

CREATE TABLE IF NOT EXISTS eligible_buyers (
	buyer_identity TEXT PRIMARY KEY,
	note TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
`

// isSQLiteUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// extended codes disabled on this connection
		msg := se.Error()
		return strings.Contains(msg, "UNIQUE constraint failed")
	}
	return false
}
