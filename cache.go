package persist

import (
	"context"
	"time"
)

// Cache is the second-level row cache port. Implementations live in
// cache/memory and cache/redis.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey names the cached row of one entity instance.
type CacheKey struct {
	Table string
	// Key is the canonical primary key encoding of the row.
	Key string
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return k.Prefix() + k.Key
}

// Prefix returns the prefix shared by every cached row of the table.
func (k CacheKey) Prefix() string {
	return "persist:" + k.Table + ":"
}
