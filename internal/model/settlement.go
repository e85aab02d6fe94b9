package model

import (
	"encoding/json"
	"time"
)

// SettlementPath records which branch of the applier settled a transaction.
type SettlementPath string

const (
	PathReservation SettlementPath = "reservation"
	PathDirect      SettlementPath = "direct"
	PathNone        SettlementPath = "none"
)

// ProcessedWebhook is the idempotency ledger entry. At most one exists per TxID.
type ProcessedWebhook struct {
	TxID           string         `json:"tx_id"`
	BuyerIdentity  string         `json:"buyer_identity"`
	AssetID        string         `json:"asset_id,omitempty"`
	ReservationID  *string        `json:"reservation_id,omitempty"`
	EventType      EventType      `json:"event_type"`
	SettlementPath SettlementPath `json:"settlement_path"`
	ProcessedAt    time.Time      `json:"processed_at"`
}

// ReservationStatus values.
const (
	ReservationReserved  = "reserved"
	ReservationCompleted = "completed"
	ReservationFailed    = "failed"
	ReservationExpired   = "expired"
)

// Reservation holds a sequence number for a buyer until payment lands.
type Reservation struct {
	ID             string     `json:"id"`
	BuyerIdentity  string     `json:"buyer_identity"`
	ProductID      string     `json:"product_id"`
	SequenceNumber int64      `json:"sequence_number"`
	Status         string     `json:"status"`
	TxID           *string    `json:"tx_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// IsActive reports whether the reservation can still be completed.
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationReserved
}

// InventoryUnit status values.
const (
	UnitAvailable = "available"
	UnitSold      = "sold"
)

// InventoryUnit is one sellable asset.
type InventoryUnit struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"product_id"`
	Name          string     `json:"name"`
	UnitNumber    int64      `json:"unit_number"`
	Status        string     `json:"status"`
	BuyerIdentity *string    `json:"buyer_identity,omitempty"`
	TxID          *string    `json:"tx_id,omitempty"`
	SoldAt        *time.Time `json:"sold_at,omitempty"`
}

// Claim records that a buyer received an asset in a transaction.
type Claim struct {
	ID            string          `json:"id"`
	BuyerIdentity string          `json:"buyer_identity"`
	TxID          string          `json:"tx_id"`
	AssetName     string          `json:"asset_name"`
	AssetID       string          `json:"asset_id"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	ClaimedAt     time.Time       `json:"claimed_at"`
}

// Purchase status values, ordered by rank.
const (
	PurchaseConfirmed = "confirmed"
	PurchaseCanceled  = "canceled"
	PurchaseCompleted = "completed"
)

// PurchaseStatusRank returns the ordering used to keep status updates
// forward-only. Unknown statuses rank lowest.
func PurchaseStatusRank(status string) int {
	switch status {
	case PurchaseConfirmed:
		return 1
	case PurchaseCanceled:
		return 2
	case PurchaseCompleted:
		return 3
	default:
		return 0
	}
}

// PurchaseStatus is the UI-facing view of a transaction.
type PurchaseStatus struct {
	TxID          string          `json:"tx_id"`
	Status        string          `json:"status"`
	BuyerIdentity string          `json:"buyer_identity"`
	AssetID       string          `json:"asset_id,omitempty"`
	Amount        int64           `json:"amount"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AnomalyKind classifies a reconciliation anomaly.
type AnomalyKind string

const (
	AnomalySignatureMismatch      AnomalyKind = "signature_mismatch"
	AnomalyUnitNotFound           AnomalyKind = "unit_not_found"
	AnomalyUnitAlreadySold        AnomalyKind = "unit_already_sold"
	AnomalyNoAssets               AnomalyKind = "no_assets"
	AnomalyIneligibleBuyer        AnomalyKind = "ineligible_buyer"
	AnomalyEligibilityUnavailable AnomalyKind = "eligibility_unavailable"
	AnomalyClaimFailed            AnomalyKind = "claim_failed"
)

// Severity of an anomaly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly is a reconciliation mismatch that needs a human. Anomalies never
// cause automatic retries.
type Anomaly struct {
	ID            string      `json:"id" bson:"_id"`
	Kind          AnomalyKind `json:"kind" bson:"kind"`
	Severity      Severity    `json:"severity" bson:"severity"`
	TxID          string      `json:"tx_id" bson:"tx_id"`
	BuyerIdentity string      `json:"buyer_identity,omitempty" bson:"buyer_identity,omitempty"`
	Subject       string      `json:"subject,omitempty" bson:"subject"`
	Detail        string      `json:"detail" bson:"detail"`
	Retryable     bool        `json:"retryable" bson:"retryable"`
	CreatedAt     time.Time   `json:"created_at" bson:"created_at"`
}
