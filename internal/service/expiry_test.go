package service

import (
	"context"
	"testing"
	"time"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySchedulerRespectsGrace(t *testing.T) {
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	res, _, err := store.CreateReservation(ctx, "stake1abc", "edition-1", time.Minute)
	require.NoError(t, err)

	s := NewExpiryScheduler(store, ExpiryConfig{Grace: 30 * time.Second, Interval: time.Hour})

	// Past expiry but inside the grace window.
	s.now = func() time.Time { return res.ExpiresAt.Add(10 * time.Second) }
	n, err := s.RunNow()
	require.NoError(t, err)
	assert.Zero(t, n)

	s.now = func() time.Time { return res.ExpiresAt.Add(31 * time.Second) }
	n, err = s.RunNow()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)

	// Expired reservations no longer settle; the payment falls back to the direct path.
	done, err := store.CompleteReservationByBuyer(ctx, "stake1abc", "tx-late")
	require.NoError(t, err)
	assert.False(t, done.Success)
}

func TestExpirySchedulerStartStop(t *testing.T) {
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := NewExpiryScheduler(store, ExpiryConfig{Interval: 5 * time.Millisecond})
	s.Start()
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()
}
