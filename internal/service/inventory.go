package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/pkg/apierror"
)

// EligibleBuyerWriter is implemented by allow-list backends that accept new entries.
type EligibleBuyerWriter interface {
	AddEligibleBuyer(ctx context.Context, buyer, note string) error
}

// InventoryService handles admin-side inventory and allow-list upkeep.
type InventoryService struct {
	inventoryRepo repository.InventoryRepository
	allowList     EligibleBuyerWriter
	cache         cache.Cache
}

// NewInventoryService creates a new inventory service.
// allowList and c may be nil.
func NewInventoryService(inventoryRepo repository.InventoryRepository, allowList EligibleBuyerWriter, c cache.Cache) *InventoryService {
	return &InventoryService{
		inventoryRepo: inventoryRepo,
		allowList:     allowList,
		cache:         c,
	}
}

// SeedUnits registers sellable units. Units already sold are left as they are.
func (s *InventoryService) SeedUnits(ctx context.Context, units []model.InventoryUnit) error {
	if len(units) == 0 {
		return apierror.BadRequest("units must not be empty")
	}

	var details []apierror.FieldError
	for i, u := range units {
		if strings.TrimSpace(u.ID) == "" {
			details = append(details, apierror.FieldError{Field: fmt.Sprintf("units[%d].id", i), Message: "is required"})
		}
	}
	if len(details) > 0 {
		return apierror.ValidationError("invalid units", details...)
	}

	return s.inventoryRepo.UpsertInventoryUnits(ctx, units)
}

// GetUnit returns a unit by id.
func (s *InventoryService) GetUnit(ctx context.Context, id string) (*model.InventoryUnit, error) {
	unit, err := s.inventoryRepo.GetInventoryUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, apierror.NotFound("inventory unit not found")
	}
	return unit, nil
}

// AddEligibleBuyer puts a buyer on the allow-list and drops any cached "not eligible" answer.
func (s *InventoryService) AddEligibleBuyer(ctx context.Context, buyer, note string) error {
	if s.allowList == nil {
		return apierror.ServiceUnavailable("allow-list is not writable in this deployment")
	}
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return apierror.ValidationError("invalid allow-list entry", apierror.FieldError{Field: "buyer_identity", Message: "is required"})
	}

	if err := s.allowList.AddEligibleBuyer(ctx, buyer, note); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.Key(eligibilityNamespace, buyer))
	}
	return nil
}
