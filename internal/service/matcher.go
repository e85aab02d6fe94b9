package service

import (
	"context"
	"fmt"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

// Match is the matcher's verdict for a finished transaction.
type Match struct {
	Path        model.SettlementPath
	Reservation *model.Reservation
}

// ReservationMatcher decides whether a payment belongs to a reservation
// or is an external sale.
type ReservationMatcher struct {
	repo repository.ReservationRepository
}

// NewReservationMatcher creates a matcher.
func NewReservationMatcher(repo repository.ReservationRepository) *ReservationMatcher {
	return &ReservationMatcher{repo: repo}
}

// Match looks for the reservation this transaction already completed (a
// redelivery after a partial run), then for the buyer's oldest active one.
func (m *ReservationMatcher) Match(ctx context.Context, ev *model.NotificationEvent) (*Match, error) {
	prior, err := m.repo.FindReservationByTx(ctx, ev.TxID)
	if err != nil {
		return nil, fmt.Errorf("failed to match reservation: %w", err)
	}
	if prior != nil {
		return &Match{Path: model.PathReservation, Reservation: prior}, nil
	}

	if ev.BuyerIdentity == "" {
		return &Match{Path: model.PathDirect}, nil
	}

	active, err := m.repo.FindActiveReservation(ctx, ev.BuyerIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to match reservation: %w", err)
	}
	if active != nil {
		return &Match{Path: model.PathReservation, Reservation: active}, nil
	}
	return &Match{Path: model.PathDirect}, nil
}
