package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/pkg/apierror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *repository.SQLStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr), "expected apierror.Error, got %v", err)
	return apiErr.StatusCode
}

func TestReservationService(t *testing.T) {
	svc := NewReservationService(newTestStore(t), time.Minute)
	ctx := context.Background()

	_, _, err := svc.Reserve(ctx, " ", "")
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, err))

	res, created, err := svc.Reserve(ctx, "stake1abc", "edition-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), res.SequenceNumber)

	again, created, err := svc.Reserve(ctx, "stake1abc", "edition-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, res.ID, again.ID)

	got, err := svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationReserved, got.Status)

	_, err = svc.Get(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))

	failed, err := svc.Fail(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFailed, failed.Status)

	_, err = svc.Fail(ctx, res.ID)
	assert.Equal(t, http.StatusConflict, apiStatus(t, err))

	_, err = svc.Fail(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))
}

func TestInventoryService(t *testing.T) {
	store := newTestStore(t)
	c := newTestCache(t)
	svc := NewInventoryService(store, store, c)
	ctx := context.Background()

	err := svc.SeedUnits(ctx, []model.InventoryUnit{{ID: ""}})
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, err))

	require.NoError(t, svc.SeedUnits(ctx, []model.InventoryUnit{{ID: "nft-1", ProductID: "edition-1"}}))
	unit, err := svc.GetUnit(ctx, "nft-1")
	require.NoError(t, err)
	assert.Equal(t, model.UnitAvailable, unit.Status)

	_, err = svc.GetUnit(ctx, "nft-404")
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))

	// A stale "not eligible" answer is dropped when the buyer is added.
	auditor := NewEligibilityAuditor(store, c, time.Hour, time.Second)
	ok, err := auditor.CheckEligibility(ctx, "stake1new")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.AddEligibleBuyer(ctx, "stake1new", "manual"))
	require.NoError(t, svc.AddEligibleBuyer(ctx, "stake1new", "manual"))

	ok, err = auditor.CheckEligibility(ctx, "stake1new")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := c.Exists(ctx, cache.Key(eligibilityNamespace, "stake1new"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInventoryServiceWithoutAllowList(t *testing.T) {
	svc := NewInventoryService(newTestStore(t), nil, nil)
	err := svc.AddEligibleBuyer(context.Background(), "stake1abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, apiStatus(t, err))
}
