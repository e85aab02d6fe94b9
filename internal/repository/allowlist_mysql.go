package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// MySQLAllowList implements AllowListRepository against a campaign database
// that keeps its allow-list in an eligible_buyers table.
type MySQLAllowList struct {
	db *sql.DB
}

// NewMySQLAllowList creates a new MySQL allow-list repository.
func NewMySQLAllowList(db *sql.DB) *MySQLAllowList {
	return &MySQLAllowList{db: db}
}

// EnsureSchema creates the allow-list table when the campaign database does not have it yet.
func (r *MySQLAllowList) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS eligible_buyers (
			buyer_identity VARCHAR(128) NOT NULL PRIMARY KEY,
			note VARCHAR(255) NOT NULL DEFAULT '',
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create eligible_buyers: %w", err)
	}
	return nil
}

// CheckEligibility reports whether the buyer is on the allow-list.
func (r *MySQLAllowList) CheckEligibility(ctx context.Context, buyer string) (bool, error) {
	query := `SELECT COUNT(*) FROM eligible_buyers WHERE buyer_identity = ? AND is_active = 1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, buyer).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check eligibility: %w", err)
	}
	return count > 0, nil
}

// AddEligibleBuyer inserts a buyer. An existing entry returns ErrAlreadyExists.
func (r *MySQLAllowList) AddEligibleBuyer(ctx context.Context, buyer, note string) error {
	log.Printf("[MySQLAllowList] Adding buyer %s", buyer)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO eligible_buyers (buyer_identity, note, is_active) VALUES (?, ?, 1)`, buyer, note)
	if err != nil {
		if isMySQLUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to add eligible buyer: %w", err)
	}
	return nil
}

// Ping checks the allow-list database connection.
func (r *MySQLAllowList) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isMySQLUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return false
}

// Ensure MySQLAllowList implements AllowListRepository
var _ AllowListRepository = (*MySQLAllowList)(nil)
