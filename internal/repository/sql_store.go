package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/pkg/uid"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// serialize all access through the store mutex (single-writer databases)
	serialize bool
	// skipLocked lets concurrent writers pass over rows another transaction holds
	skipLocked        bool
	isUniqueViolation func(error) bool
}

// completeOldestReservationQuery completes the buyer's oldest active
// reservation. With skipLocked, a concurrent completion for the same buyer
// takes the next reservation instead of colliding on the same row.
func (d dialect) completeOldestReservationQuery() string {
	lockClause := ""
	if d.skipLocked {
		lockClause = " FOR UPDATE SKIP LOCKED"
	}
	return `
		UPDATE reservations SET status = ?, tx_id = ?, completed_at = ?
		WHERE id = (
			SELECT id FROM reservations
			WHERE buyer_identity = ? AND status = ?
			ORDER BY created_at, sequence_number LIMIT 1` + lockClause + `
		) AND status = ?
		RETURNING ` + reservationColumns
}

// completeAttempts bounds retries when a concurrent writer takes the row
// the subquery picked.
const completeAttempts = 3

// SQLStore implements SettlementStore on database/sql.
// Correctness under concurrent pipelines comes from unique keys and
// conditional updates, not from the mutex.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
}

func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) lock() func() {
	if !s.dialect.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *SQLStore) rlock() func() {
	if !s.dialect.serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *SQLStore) mapUnique(err error) error {
	if err != nil && s.dialect.isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// --- Idempotency ledger ---

// CheckProcessedWebhook returns the ledger entry for txID, or nil.
func (s *SQLStore) CheckProcessedWebhook(ctx context.Context, txID string) (*model.ProcessedWebhook, error) {
	defer s.rlock()()

	query := s.rebind(`
		SELECT tx_id, buyer_identity, asset_id, reservation_id, event_type, settlement_path, processed_at
		FROM processed_webhooks WHERE tx_id = ?`)

	var rec model.ProcessedWebhook
	var reservationID sql.NullString
	var eventType, path string
	err := s.db.QueryRowContext(ctx, query, txID).Scan(
		&rec.TxID, &rec.BuyerIdentity, &rec.AssetID, &reservationID, &eventType, &path, &rec.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check processed webhook: %w", err)
	}
	rec.ReservationID = stringPtr(reservationID)
	rec.EventType = model.EventType(eventType)
	rec.SettlementPath = model.SettlementPath(path)
	return &rec, nil
}

// RecordProcessedWebhook inserts the ledger entry.
func (s *SQLStore) RecordProcessedWebhook(ctx context.Context, rec *model.ProcessedWebhook) error {
	defer s.lock()()

	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO processed_webhooks (tx_id, buyer_identity, asset_id, reservation_id, event_type, settlement_path, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.TxID, rec.BuyerIdentity, rec.AssetID, nullString(rec.ReservationID),
		string(rec.EventType), string(rec.SettlementPath), rec.ProcessedAt)
	if err = s.mapUnique(err); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to record processed webhook: %w", err)
	}
	return nil
}

// --- Purchase status ---

// UpdatePurchaseStatus upserts a forward-only purchase status.
func (s *SQLStore) UpdatePurchaseStatus(ctx context.Context, status *model.PurchaseStatus) error {
	defer s.lock()()

	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO purchase_status (tx_id, status, status_rank, buyer_identity, asset_id, amount, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_id) DO UPDATE SET
			status = excluded.status,
			status_rank = excluded.status_rank,
			buyer_identity = CASE WHEN excluded.buyer_identity <> '' THEN excluded.buyer_identity ELSE purchase_status.buyer_identity END,
			asset_id = CASE WHEN excluded.asset_id <> '' THEN excluded.asset_id ELSE purchase_status.asset_id END,
			amount = CASE WHEN excluded.amount <> 0 THEN excluded.amount ELSE purchase_status.amount END,
			metadata = COALESCE(excluded.metadata, purchase_status.metadata),
			updated_at = excluded.updated_at
		WHERE excluded.status_rank >= purchase_status.status_rank`)

	_, err := s.db.ExecContext(ctx, query,
		status.TxID, status.Status, model.PurchaseStatusRank(status.Status), status.BuyerIdentity,
		status.AssetID, status.Amount, nullJSON(status.Metadata), status.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update purchase status: %w", err)
	}
	return nil
}

// GetPurchaseStatus returns the purchase status for txID, or nil.
func (s *SQLStore) GetPurchaseStatus(ctx context.Context, txID string) (*model.PurchaseStatus, error) {
	defer s.rlock()()

	query := s.rebind(`
		SELECT tx_id, status, buyer_identity, asset_id, amount, metadata, updated_at
		FROM purchase_status WHERE tx_id = ?`)

	var ps model.PurchaseStatus
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx, query, txID).Scan(
		&ps.TxID, &ps.Status, &ps.BuyerIdentity, &ps.AssetID, &ps.Amount, &metadata, &ps.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get purchase status: %w", err)
	}
	if metadata.Valid {
		ps.Metadata = json.RawMessage(metadata.String)
	}
	return &ps, nil
}

// --- Reservations ---

const reservationColumns = `id, buyer_identity, product_id, sequence_number, status, tx_id, created_at, expires_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var r model.Reservation
	var txID sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.BuyerIdentity, &r.ProductID, &r.SequenceNumber, &r.Status,
		&txID, &r.CreatedAt, &r.ExpiresAt, &completedAt); err != nil {
		return nil, err
	}
	r.TxID = stringPtr(txID)
	r.CompletedAt = timePtr(completedAt)
	return &r, nil
}

func (s *SQLStore) queryReservation(ctx context.Context, q queryer, query string, args ...any) (*model.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx, s.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateReservation stores a new active reservation with the next sequence
// number for the product. The bool result is false when an existing active
// reservation was returned instead.
func (s *SQLStore) CreateReservation(ctx context.Context, buyer, productID string, ttl time.Duration) (*model.Reservation, bool, error) {
	defer s.lock()()

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, created, err := s.createReservationTx(ctx, buyer, productID, ttl)
		if errors.Is(err, ErrAlreadyExists) {
			log.Printf("[SQLStore] Sequence collision for product %s (attempt %d/%d)", productID, attempt, maxAttempts)
			continue
		}
		return res, created, err
	}
	return nil, false, fmt.Errorf("failed to create reservation: sequence contention on product %s", productID)
}

func (s *SQLStore) createReservationTx(ctx context.Context, buyer, productID string, ttl time.Duration) (*model.Reservation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.queryReservation(ctx, tx,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE buyer_identity = ? AND product_id = ? AND status = ?
		ORDER BY created_at LIMIT 1`,
		buyer, productID, model.ReservationReserved)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up active reservation: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM reservations WHERE product_id = ?`),
		productID).Scan(&next); err != nil {
		return nil, false, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	now := time.Now().UTC()
	res := &model.Reservation{
		ID:             uid.New(),
		BuyerIdentity:  buyer,
		ProductID:      productID,
		SequenceNumber: next,
		Status:         model.ReservationReserved,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO reservations (id, buyer_identity, product_id, sequence_number, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		res.ID, res.BuyerIdentity, res.ProductID, res.SequenceNumber, res.Status, res.CreatedAt, res.ExpiresAt)
	if err = s.mapUnique(err); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, s.mapUnique(fmt.Errorf("failed to commit reservation: %w", err))
	}
	return res, true, nil
}

// GetReservation returns a reservation by id, or nil.
func (s *SQLStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	defer s.rlock()()

	r, err := s.queryReservation(ctx, s.db,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

// FindActiveReservation returns the buyer's oldest active reservation, or nil.
func (s *SQLStore) FindActiveReservation(ctx context.Context, buyer string) (*model.Reservation, error) {
	defer s.rlock()()

	r, err := s.queryReservation(ctx, s.db,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE buyer_identity = ? AND status = ?
		ORDER BY created_at, sequence_number LIMIT 1`,
		buyer, model.ReservationReserved)
	if err != nil {
		return nil, fmt.Errorf("failed to find active reservation: %w", err)
	}
	return r, nil
}

// FindReservationByTx returns the reservation completed by txID, or nil.
func (s *SQLStore) FindReservationByTx(ctx context.Context, txID string) (*model.Reservation, error) {
	defer s.rlock()()

	r, err := s.queryReservation(ctx, s.db,
		`SELECT `+reservationColumns+` FROM reservations WHERE tx_id = ? LIMIT 1`, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation by tx: %w", err)
	}
	return r, nil
}

// CompleteReservationByBuyer atomically completes the buyer's oldest active reservation.
func (s *SQLStore) CompleteReservationByBuyer(ctx context.Context, buyer, txID string) (*ReservationCompletion, error) {
	defer s.lock()()

	// A tx completes at most one reservation; a rerun must not consume another.
	prior, err := s.completedByTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return &ReservationCompletion{Success: true, Reservation: prior, AlreadyCompleted: true}, nil
	}

	for attempt := 1; ; attempt++ {
		r, err := s.queryReservation(ctx, s.db, s.dialect.completeOldestReservationQuery(),
			model.ReservationCompleted, txID, time.Now().UTC(),
			buyer, model.ReservationReserved, model.ReservationReserved)
		if err = s.mapUnique(err); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				// A concurrent run of the same tx got there first.
				prior, err := s.completedByTx(ctx, txID)
				if err != nil {
					return nil, err
				}
				if prior != nil {
					return &ReservationCompletion{Success: true, Reservation: prior, AlreadyCompleted: true}, nil
				}
			}
			return nil, fmt.Errorf("failed to complete reservation: %w", err)
		}
		if r != nil {
			return &ReservationCompletion{Success: true, Reservation: r}, nil
		}

		// No row: either the buyer has nothing active, or another writer
		// completed the row we picked between the subquery and the update.
		active, err := s.hasActiveReservation(ctx, buyer)
		if err != nil {
			return nil, err
		}
		if !active || attempt >= completeAttempts {
			return &ReservationCompletion{Success: false}, nil
		}
		log.Printf("[SQLStore] buyer=%s tx=%s: reservation taken concurrently, retrying (%d/%d)", buyer, txID, attempt, completeAttempts)
	}
}

func (s *SQLStore) hasActiveReservation(ctx context.Context, buyer string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM reservations WHERE buyer_identity = ? AND status = ?`),
		buyer, model.ReservationReserved).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count active reservations: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) completedByTx(ctx context.Context, txID string) (*model.Reservation, error) {
	r, err := s.queryReservation(ctx, s.db,
		`SELECT `+reservationColumns+` FROM reservations WHERE tx_id = ? AND status = ? LIMIT 1`,
		txID, model.ReservationCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to look up completed reservation: %w", err)
	}
	return r, nil
}

// FailReservation moves an active reservation to failed.
func (s *SQLStore) FailReservation(ctx context.Context, id string) error {
	defer s.lock()()

	result, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`),
		model.ReservationFailed, id, model.ReservationReserved)
	if err != nil {
		return fmt.Errorf("failed to fail reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ExpireReservations moves active reservations that expired before cutoff to expired.
func (s *SQLStore) ExpireReservations(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.lock()()

	result, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE reservations SET status = ? WHERE status = ? AND expires_at < ?`),
		model.ReservationExpired, model.ReservationReserved, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	return result.RowsAffected()
}

// --- Inventory ---

const unitColumns = `id, product_id, name, unit_number, status, buyer_identity, tx_id, sold_at`

func scanUnit(row rowScanner) (*model.InventoryUnit, error) {
	var u model.InventoryUnit
	var buyer, txID sql.NullString
	var soldAt sql.NullTime
	if err := row.Scan(&u.ID, &u.ProductID, &u.Name, &u.UnitNumber, &u.Status, &buyer, &txID, &soldAt); err != nil {
		return nil, err
	}
	u.BuyerIdentity = stringPtr(buyer)
	u.TxID = stringPtr(txID)
	u.SoldAt = timePtr(soldAt)
	return &u, nil
}

func (s *SQLStore) queryUnit(ctx context.Context, query string, args ...any) (*model.InventoryUnit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// UpsertInventoryUnits inserts or refreshes units. Sold units are never modified.
func (s *SQLStore) UpsertInventoryUnits(ctx context.Context, units []model.InventoryUnit) error {
	if len(units) == 0 {
		return nil
	}

	defer s.lock()()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO inventory_units (id, product_id, name, unit_number, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			product_id = excluded.product_id,
			name = excluded.name,
			unit_number = excluded.unit_number
		WHERE inventory_units.status = 'available'`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, u.ID, u.ProductID, u.Name, u.UnitNumber, model.UnitAvailable); err != nil {
			return fmt.Errorf("failed to upsert unit %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetInventoryUnit returns a unit by id, or nil.
func (s *SQLStore) GetInventoryUnit(ctx context.Context, id string) (*model.InventoryUnit, error) {
	defer s.rlock()()

	u, err := s.queryUnit(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory unit: %w", err)
	}
	return u, nil
}

// MarkInventoryUnitSold atomically moves a unit from available to sold.
func (s *SQLStore) MarkInventoryUnitSold(ctx context.Context, unitID, buyer, txID string) (*UnitSale, error) {
	defer s.lock()()

	u, err := s.queryUnit(ctx, `
		UPDATE inventory_units SET status = ?, buyer_identity = ?, tx_id = ?, sold_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+unitColumns,
		model.UnitSold, buyer, txID, time.Now().UTC(), unitID, model.UnitAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to mark unit sold: %w", err)
	}
	if u != nil {
		return &UnitSale{Success: true, Unit: u}, nil
	}

	current, err := s.queryUnit(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE id = ?`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory unit: %w", err)
	}
	switch {
	case current == nil:
		return &UnitSale{Success: false, Reason: model.AnomalyUnitNotFound}, nil
	case current.TxID != nil && *current.TxID == txID:
		return &UnitSale{Success: true, Unit: current}, nil
	default:
		return &UnitSale{Success: false, Unit: current, Reason: model.AnomalyUnitAlreadySold}, nil
	}
}

// --- Claims ---

// RecordClaim inserts a claim; a duplicate (tx_id, asset_id) returns ErrAlreadyExists.
func (s *SQLStore) RecordClaim(ctx context.Context, claim *model.Claim) error {
	defer s.lock()()

	if claim.ID == "" {
		claim.ID = uid.New()
	}
	if claim.ClaimedAt.IsZero() {
		claim.ClaimedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO claims (id, buyer_identity, tx_id, asset_name, asset_id, metadata, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		claim.ID, claim.BuyerIdentity, claim.TxID, claim.AssetName, claim.AssetID,
		nullJSON(claim.Metadata), claim.ClaimedAt)
	if err = s.mapUnique(err); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to record claim: %w", err)
	}
	return nil
}

// ListClaimsByBuyer returns the buyer's claims newest first.
func (s *SQLStore) ListClaimsByBuyer(ctx context.Context, buyer string, limit int) ([]model.Claim, error) {
	defer s.rlock()()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, buyer_identity, tx_id, asset_name, asset_id, metadata, claimed_at
		FROM claims WHERE buyer_identity = ?
		ORDER BY claimed_at DESC LIMIT ?`), buyer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	claims := []model.Claim{}
	for rows.Next() {
		var c model.Claim
		var metadata sql.NullString
		if err := rows.Scan(&c.ID, &c.BuyerIdentity, &c.TxID, &c.AssetName, &c.AssetID, &metadata, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		if metadata.Valid {
			c.Metadata = json.RawMessage(metadata.String)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// --- Anomalies ---

// RecordAnomaly stores an anomaly, ignoring duplicates of (tx_id, kind, subject).
func (s *SQLStore) RecordAnomaly(ctx context.Context, a *model.Anomaly) error {
	defer s.lock()()

	if a.ID == "" {
		a.ID = uid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO anomalies (id, kind, severity, tx_id, buyer_identity, subject, detail, retryable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_id, kind, subject) DO NOTHING`),
		a.ID, string(a.Kind), string(a.Severity), a.TxID, a.BuyerIdentity, a.Subject, a.Detail, a.Retryable, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns anomalies newest first with the total count.
func (s *SQLStore) ListAnomalies(ctx context.Context, limit, offset int) ([]model.Anomaly, int64, error) {
	defer s.rlock()()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, kind, severity, tx_id, buyer_identity, subject, detail, retryable, created_at
		FROM anomalies ORDER BY created_at DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := []model.Anomaly{}
	for rows.Next() {
		var a model.Anomaly
		var kind, severity string
		if err := rows.Scan(&a.ID, &kind, &severity, &a.TxID, &a.BuyerIdentity, &a.Subject, &a.Detail, &a.Retryable, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.Kind = model.AnomalyKind(kind)
		a.Severity = model.Severity(severity)
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM anomalies`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count anomalies: %w", err)
	}
	return anomalies, total, nil
}

// --- Allow-list ---

// CheckEligibility reports whether the buyer is on the store's allow-list.
func (s *SQLStore) CheckEligibility(ctx context.Context, buyer string) (bool, error) {
	defer s.rlock()()

	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM eligible_buyers WHERE buyer_identity = ? AND is_active = ?`),
		buyer, true).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check eligibility: %w", err)
	}
	return count > 0, nil
}

// AddEligibleBuyer puts a buyer on the allow-list, reactivating an existing entry.
func (s *SQLStore) AddEligibleBuyer(ctx context.Context, buyer, note string) error {
	defer s.lock()()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO eligible_buyers (buyer_identity, note, is_active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (buyer_identity) DO UPDATE SET is_active = excluded.is_active, note = excluded.note`),
		buyer, note, true, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add eligible buyer: %w", err)
	}
	return nil
}

// --- Stats ---

// GetStats returns table counts for the admin dashboard.
func (s *SQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	defer s.rlock()()

	stats := make(map[string]interface{})
	stats["backend"] = s.dialect.name

	for _, table := range []string{"processed_webhooks", "claims", "anomalies", "inventory_units"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reservations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count reservations: %w", err)
	}
	defer rows.Close()

	byStatus := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		byStatus[status] = count
	}
	stats["reservations"] = byStatus

	return stats, rows.Err()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ensure SQLStore implements SettlementStore
var _ SettlementStore = (*SQLStore)(nil)
