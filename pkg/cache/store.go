package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrKeyDerivation indicates a cache key could not be computed for a request
	ErrKeyDerivation = errors.New("cache key derivation failed")
)

// Store is a byte-oriented key-value backend with per-key expiration.
//
// Get returns ErrCacheMiss when the key is absent or expired; any other error
// is a failure of the backend itself. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. The entry expires after ttl.
	// A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the resources held by the store.
	Close() error
}
