package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, Key("processed", "tx-001"), []byte("1"), time.Minute))
	v, err := c.Get(ctx, "processed:tx-001")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	ok, err := c.Exists(ctx, "processed:tx-001")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "processed:tx-001"))
	ok, err = c.Exists(ctx, "processed:tx-001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	c.removeExpired()
	assert.Equal(t, int64(0), c.Stats(ctx).Entries)
}

func TestMemoryCacheGetOrSet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("eligible"), nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrSet(ctx, "eligibility:stake1abc", time.Minute, fn)
		require.NoError(t, err)
		assert.Equal(t, []byte("eligible"), v)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("lookup failed")
	_, err := c.GetOrSet(ctx, "eligibility:stake1xyz", time.Minute, func() ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	ok, _ := c.Exists(ctx, "eligibility:stake1xyz")
	assert.False(t, ok)

	stats := c.Stats(ctx)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, uint64(2), stats.Hits)
}

func TestMemoryCacheCloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
