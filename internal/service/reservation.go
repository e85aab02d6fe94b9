package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/pkg/apierror"
)

// ReservationService handles reservation requests from the storefront.
type ReservationService struct {
	repo repository.ReservationRepository
	ttl  time.Duration
}

// NewReservationService creates a new reservation service.
func NewReservationService(repo repository.ReservationRepository, ttl time.Duration) *ReservationService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReservationService{repo: repo, ttl: ttl}
}

// Reserve holds the next sequence number of a product for the buyer.
// Calling it again while the reservation is active returns the same one.
func (s *ReservationService) Reserve(ctx context.Context, buyer, productID string) (*model.Reservation, bool, error) {
	buyer = strings.TrimSpace(buyer)
	productID = strings.TrimSpace(productID)

	var details []apierror.FieldError
	if buyer == "" {
		details = append(details, apierror.FieldError{Field: "buyer_identity", Message: "is required"})
	}
	if productID == "" {
		details = append(details, apierror.FieldError{Field: "product_id", Message: "is required"})
	}
	if len(details) > 0 {
		return nil, false, apierror.ValidationError("invalid reservation request", details...)
	}

	res, created, err := s.repo.CreateReservation(ctx, buyer, productID, s.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve: %w", err)
	}
	return res, created, nil
}

// Get returns a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id string) (*model.Reservation, error) {
	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, apierror.NotFound("reservation not found")
	}
	return res, nil
}

// Fail marks an active reservation failed, for callers that know settlement cannot proceed.
func (s *ReservationService) Fail(ctx context.Context, id string) (*model.Reservation, error) {
	err := s.repo.FailReservation(ctx, id)
	if errors.Is(err, repository.ErrInvalidTransition) {
		res, getErr := s.repo.GetReservation(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if res == nil {
			return nil, apierror.NotFound("reservation not found")
		}
		return nil, apierror.Conflict(fmt.Sprintf("reservation is %s, only reserved can fail", res.Status))
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
