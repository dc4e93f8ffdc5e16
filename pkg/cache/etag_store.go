package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// ETagKeyPrefix namespaces ETag keys. DeriveKey output always starts
	// with KeyPrefix, so no request can derive a key inside this namespace.
	ETagKeyPrefix = "etag:"

	// ETagKeySuffix is appended to a cache key to form the key of its ETag.
	ETagKeySuffix = "_etag"
)

// ETagKey returns the key under which the ETag of key is stored:
// "etag:<key>_etag".
func ETagKey(key string) string {
	return ETagKeyPrefix + key + ETagKeySuffix
}

// IsETagKey reports whether key was produced by ETagKey.
func IsETagKey(key string) bool {
	return strings.HasPrefix(key, ETagKeyPrefix) && strings.HasSuffix(key, ETagKeySuffix)
}

// ETagStore keeps validator tokens in a Store under ETagKey(key).
type ETagStore struct {
	backend Store
}

// NewETagStore creates an ETag adapter over backend.
func NewETagStore(backend Store) *ETagStore {
	if backend == nil {
		panic("store cannot be nil")
	}
	return &ETagStore{backend: backend}
}

// Get returns the ETag stored for key, or ErrCacheMiss.
func (s *ETagStore) Get(ctx context.Context, key string) (string, error) {
	data, err := s.backend.Get(ctx, ETagKey(key))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrCacheMiss
	}
	return string(data), nil
}

// Set stores etag for key for ttl.
func (s *ETagStore) Set(ctx context.Context, key, etag string, ttl time.Duration) error {
	if etag == "" {
		return fmt.Errorf("etag cannot be empty")
	}
	if err := s.backend.Set(ctx, ETagKey(key), []byte(etag), ttl); err != nil {
		return fmt.Errorf("store etag: %w", err)
	}
	return nil
}

// Delete removes the ETag stored for key.
func (s *ETagStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, ETagKey(key))
}
