package service

import (
	"context"
	"fmt"
	"log"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

// Settlement is what the applier did for one transaction.
type Settlement struct {
	Path        model.SettlementPath `json:"path"`
	Reservation *model.Reservation   `json:"reservation,omitempty"`
	// Settled lists the assets the buyer now owns; claims are written for these.
	Settled   []model.SaleAsset `json:"settled"`
	Anomalies []*model.Anomaly  `json:"anomalies,omitempty"`
}

// ReservationID returns the completed reservation's id, or nil.
func (s *Settlement) ReservationID() *string {
	if s.Reservation == nil {
		return nil
	}
	id := s.Reservation.ID
	return &id
}

// SettlementApplier performs the state transition for a finished transaction.
type SettlementApplier struct {
	reservations repository.ReservationRepository
	inventory    repository.InventoryRepository
}

// NewSettlementApplier creates an applier.
func NewSettlementApplier(reservations repository.ReservationRepository, inventory repository.InventoryRepository) *SettlementApplier {
	return &SettlementApplier{reservations: reservations, inventory: inventory}
}

// Apply settles ev along the matched path. Reconciliation problems come back
// as anomalies on the Settlement; a returned error means a collaborator
// failed and the whole run may be retried.
func (a *SettlementApplier) Apply(ctx context.Context, ev *model.NotificationEvent, match *Match) (*Settlement, error) {
	if match.Path == model.PathReservation {
		s, ok, err := a.applyReservation(ctx, ev)
		if err != nil {
			return nil, err
		}
		if ok {
			return s, nil
		}
		log.Printf("[Applier] tx=%s: reservation for %s no longer active, settling as external sale", ev.TxID, ev.BuyerIdentity)
	}
	return a.applyDirect(ctx, ev)
}

func (a *SettlementApplier) applyReservation(ctx context.Context, ev *model.NotificationEvent) (*Settlement, bool, error) {
	done, err := a.reservations.CompleteReservationByBuyer(ctx, ev.BuyerIdentity, ev.TxID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete reservation: %w", err)
	}
	if !done.Success {
		return nil, false, nil
	}

	if done.AlreadyCompleted {
		log.Printf("[Applier] tx=%s: reservation %s was completed on an earlier run", ev.TxID, done.Reservation.ID)
	} else {
		log.Printf("[Applier] tx=%s: completed reservation %s (#%d of %s)",
			ev.TxID, done.Reservation.ID, done.Reservation.SequenceNumber, done.Reservation.ProductID)
	}

	s := &Settlement{
		Path:        model.PathReservation,
		Reservation: done.Reservation,
		Settled:     ev.Assets,
	}
	if len(ev.Assets) == 0 {
		s.Anomalies = append(s.Anomalies, &model.Anomaly{
			Kind:          model.AnomalyNoAssets,
			Severity:      model.SeverityMedium,
			TxID:          ev.TxID,
			BuyerIdentity: ev.BuyerIdentity,
			Subject:       done.Reservation.ID,
			Detail:        "reservation completed but notification listed no assets; claim not recorded",
		})
	}
	return s, true, nil
}

func (a *SettlementApplier) applyDirect(ctx context.Context, ev *model.NotificationEvent) (*Settlement, error) {
	s := &Settlement{Path: model.PathDirect}

	if len(ev.Assets) == 0 {
		s.Anomalies = append(s.Anomalies, &model.Anomaly{
			Kind:          model.AnomalyNoAssets,
			Severity:      model.SeverityMedium,
			TxID:          ev.TxID,
			BuyerIdentity: ev.BuyerIdentity,
			Detail:        "external sale without reservation listed no assets",
		})
		return s, nil
	}

	for _, asset := range ev.Assets {
		unitID := asset.UID
		if unitID == "" {
			unitID = asset.AssetID
		}

		sale, err := a.inventory.MarkInventoryUnitSold(ctx, unitID, ev.BuyerIdentity, ev.TxID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark unit %s sold: %w", unitID, err)
		}
		if sale.Success {
			s.Settled = append(s.Settled, asset)
			continue
		}

		s.Anomalies = append(s.Anomalies, unitAnomaly(ev, unitID, sale))
	}
	return s, nil
}

func unitAnomaly(ev *model.NotificationEvent, unitID string, sale *repository.UnitSale) *model.Anomaly {
	a := &model.Anomaly{
		Kind:          sale.Reason,
		TxID:          ev.TxID,
		BuyerIdentity: ev.BuyerIdentity,
		Subject:       unitID,
	}
	switch sale.Reason {
	case model.AnomalyUnitAlreadySold:
		// Two on-chain sales for one unit: someone paid for something we cannot deliver.
		a.Severity = model.SeverityHigh
		owner := "unknown"
		if sale.Unit != nil && sale.Unit.TxID != nil {
			owner = *sale.Unit.TxID
		}
		a.Detail = fmt.Sprintf("unit %s already sold in tx %s", unitID, owner)
	default:
		a.Kind = model.AnomalyUnitNotFound
		a.Severity = model.SeverityMedium
		a.Detail = fmt.Sprintf("unit %s not found in inventory", unitID)
	}
	return a
}
