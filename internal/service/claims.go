package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

// ClaimRecorder appends claim records for settled assets.
type ClaimRecorder struct {
	repo repository.ClaimRepository
}

// NewClaimRecorder creates a claim recorder.
func NewClaimRecorder(repo repository.ClaimRepository) *ClaimRecorder {
	return &ClaimRecorder{repo: repo}
}

type claimMetadata struct {
	ProjectID      string               `json:"project_id,omitempty"`
	Amount         int64                `json:"amount"`
	Path           model.SettlementPath `json:"path"`
	ReservationID  string               `json:"reservation_id,omitempty"`
	SequenceNumber int64                `json:"sequence_number,omitempty"`
	AssetUID       string               `json:"asset_uid,omitempty"`
	BuyerAddress   string               `json:"buyer_address,omitempty"`
}

// Record writes one claim per settled asset and returns how many were new.
// Failures never undo the settlement; each one comes back as an anomaly so
// an operator can write the claim by hand.
func (r *ClaimRecorder) Record(ctx context.Context, ev *model.NotificationEvent, s *Settlement) (int, []*model.Anomaly) {
	recorded := 0
	var anomalies []*model.Anomaly
	for _, asset := range s.Settled {
		meta := claimMetadata{
			ProjectID:    ev.ProjectID,
			Amount:       ev.Amount,
			Path:         s.Path,
			AssetUID:     asset.UID,
			BuyerAddress: ev.BuyerAddress,
		}
		if s.Reservation != nil {
			meta.ReservationID = s.Reservation.ID
			meta.SequenceNumber = s.Reservation.SequenceNumber
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			log.Printf("[ClaimRecorder] tx=%s: failed to encode metadata: %v", ev.TxID, err)
			raw = nil
		}

		err = r.repo.RecordClaim(ctx, &model.Claim{
			BuyerIdentity: ev.BuyerIdentity,
			TxID:          ev.TxID,
			AssetName:     asset.Name,
			AssetID:       asset.Key(),
			Metadata:      raw,
		})
		switch {
		case err == nil:
			recorded++
		case errors.Is(err, repository.ErrAlreadyExists):
			// written by an earlier or concurrent run
		default:
			log.Printf("[ClaimRecorder] HIGH: tx=%s asset=%s: claim not written: %v", ev.TxID, asset.Key(), err)
			anomalies = append(anomalies, &model.Anomaly{
				Kind:          model.AnomalyClaimFailed,
				Severity:      model.SeverityHigh,
				TxID:          ev.TxID,
				BuyerIdentity: ev.BuyerIdentity,
				Subject:       asset.Key(),
				Detail:        fmt.Sprintf("claim for settled asset not recorded: %v", err),
			})
		}
	}
	return recorded, anomalies
}
