// Package storage implements the cache-backed indicator store. The store is
// written against the Cache capability interface so any backend providing
// set-with-expiry, get and set-membership can serve it; RedisCache and
// MemoryCache are the two shipped implementations.
package storage

import (
	"context"
	"errors"
	"time"
)

// Cache is the key-value capability the indicator store requires from its
// backend. Get distinguishes a clean miss (false, nil) from a backend error
// (false, err); callers must never treat the two alike.
type Cache interface {
	// Set stores a value under key with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get loads the value stored under key into dest. Returns (false, nil)
	// when the key is absent or expired.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// SAdd adds members to the named set.
	SAdd(ctx context.Context, set string, members ...string) error

	// SMembers enumerates the named set.
	SMembers(ctx context.Context, set string) ([]string, error)

	// SCard returns the cardinality of the named set.
	SCard(ctx context.Context, set string) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

var (
	// ErrValueTooLarge is returned when a cache value exceeds the size limit.
	ErrValueTooLarge = errors.New("cache value exceeds maximum allowed size")
)
