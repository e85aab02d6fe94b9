package cache

import (
	"context"
	"time"
)

// Cache is the fast lookup layer in front of the settlement store.
// It holds processed-transaction markers and eligibility results; the store
// stays authoritative, so a cache outage only costs extra store reads.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// GetOrSet retrieves a value or computes and stores it if missing.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error)

	// Close releases background resources.
	Close() error
}

// Stats reports hit/miss counters for the admin dashboard.
type Stats struct {
	Backend string `json:"backend"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int64  `json:"entries"`
}

// StatsReporter is implemented by caches that track usage.
type StatsReporter interface {
	Stats(ctx context.Context) Stats
}

// CacheError is a sentinel error type for cache failures.
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)

// Key joins a namespace and id into a cache key.
func Key(namespace, id string) string {
	return namespace + ":" + id
}
