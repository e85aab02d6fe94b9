package repository

import (
	"context"
	"errors"
	"time"

	"purchase-settlement-api/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a unique key is already taken.
	// Every backend maps its own unique-violation error onto this.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidTransition is returned when a conditional status update matches nothing.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// LedgerRepository stores processed webhook records.
type LedgerRepository interface {
	// CheckProcessedWebhook returns the ledger entry for txID, or nil if none exists.
	CheckProcessedWebhook(ctx context.Context, txID string) (*model.ProcessedWebhook, error)

	// RecordProcessedWebhook inserts the ledger entry. Returns ErrAlreadyExists
	// if the txID was already recorded.
	RecordProcessedWebhook(ctx context.Context, rec *model.ProcessedWebhook) error
}

// PurchaseStatusRepository stores UI-facing purchase status.
type PurchaseStatusRepository interface {
	// UpdatePurchaseStatus upserts the status. Lower-ranked statuses never
	// overwrite higher-ranked ones.
	UpdatePurchaseStatus(ctx context.Context, status *model.PurchaseStatus) error

	// GetPurchaseStatus returns the status for txID, or nil if none exists.
	GetPurchaseStatus(ctx context.Context, txID string) (*model.PurchaseStatus, error)
}

// ReservationCompletion is the result of CompleteReservationByBuyer.
type ReservationCompletion struct {
	Success     bool
	Reservation *model.Reservation
	// AlreadyCompleted is set when this txID had completed the reservation earlier.
	AlreadyCompleted bool
}

// ReservationRepository stores buyer reservations.
type ReservationRepository interface {
	// CreateReservation assigns the next sequence number for the product and
	// stores an active reservation. An existing active reservation for the
	// same buyer and product is returned instead.
	CreateReservation(ctx context.Context, buyer, productID string, ttl time.Duration) (*model.Reservation, bool, error)

	// GetReservation returns a reservation by id, or nil if none exists.
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)

	// FindActiveReservation returns the buyer's oldest active reservation, or nil.
	FindActiveReservation(ctx context.Context, buyer string) (*model.Reservation, error)

	// FindReservationByTx returns the reservation completed by txID, or nil.
	FindReservationByTx(ctx context.Context, txID string) (*model.Reservation, error)

	// CompleteReservationByBuyer atomically moves the buyer's oldest active
	// reservation to completed and stamps txID.
	CompleteReservationByBuyer(ctx context.Context, buyer, txID string) (*ReservationCompletion, error)

	// FailReservation moves an active reservation to failed.
	FailReservation(ctx context.Context, id string) error

	// ExpireReservations moves reservations whose expiry is before cutoff to expired.
	ExpireReservations(ctx context.Context, cutoff time.Time) (int64, error)
}

// UnitSale is the result of MarkInventoryUnitSold.
type UnitSale struct {
	Success bool
	Unit    *model.InventoryUnit
	// Reason is set when Success is false: unit_not_found or unit_already_sold.
	Reason model.AnomalyKind
}

// InventoryRepository stores inventory units.
type InventoryRepository interface {
	// UpsertInventoryUnits inserts units, leaving sold units untouched.
	UpsertInventoryUnits(ctx context.Context, units []model.InventoryUnit) error

	// GetInventoryUnit returns a unit by id, or nil if none exists.
	GetInventoryUnit(ctx context.Context, id string) (*model.InventoryUnit, error)

	// MarkInventoryUnitSold atomically moves a unit from available to sold.
	// A unit already sold in the same txID counts as success.
	MarkInventoryUnitSold(ctx context.Context, unitID, buyer, txID string) (*UnitSale, error)
}

// ClaimRepository stores the append-only claim log.
type ClaimRepository interface {
	// RecordClaim inserts a claim. Returns ErrAlreadyExists for a duplicate (txID, assetID).
	RecordClaim(ctx context.Context, claim *model.Claim) error

	// ListClaimsByBuyer returns the buyer's claims, newest first.
	ListClaimsByBuyer(ctx context.Context, buyer string, limit int) ([]model.Claim, error)
}

// AnomalyRepository is the anomaly sink.
type AnomalyRepository interface {
	// RecordAnomaly stores an anomaly. Duplicates of (txID, kind, subject) are ignored.
	RecordAnomaly(ctx context.Context, anomaly *model.Anomaly) error

	// ListAnomalies returns anomalies newest first with the total count.
	ListAnomalies(ctx context.Context, limit, offset int) ([]model.Anomaly, int64, error)
}

// AllowListRepository answers eligibility lookups.
type AllowListRepository interface {
	// CheckEligibility reports whether the buyer is on the allow-list.
	CheckEligibility(ctx context.Context, buyer string) (bool, error)
}

// SettlementStore is the full collaborator surface a single database provides.
type SettlementStore interface {
	LedgerRepository
	PurchaseStatusRepository
	ReservationRepository
	InventoryRepository
	ClaimRepository
	AnomalyRepository
	AllowListRepository

	// AddEligibleBuyer puts a buyer on the store's allow-list.
	AddEligibleBuyer(ctx context.Context, buyer, note string) error

	// GetStats returns table counts for the admin dashboard.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks connectivity for readiness probes.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}
