package cache

import (
	"context"
	"fmt"
	"time"
)

// ResponseStore keeps response entries in a Store, keyed by cache key.
type ResponseStore struct {
	backend Store
}

// NewResponseStore creates a response adapter over backend.
func NewResponseStore(backend Store) *ResponseStore {
	if backend == nil {
		panic("store cannot be nil")
	}
	return &ResponseStore{backend: backend}
}

// Get retrieves the entry stored under key.
// Returns ErrCacheMiss if there is none, ErrInvalidEntry if it cannot be decoded.
func (s *ResponseStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return unmarshalEntry(data)
}

// Set stores entry under key for ttl.
func (s *ResponseStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	data, err := marshalEntry(entry)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// Delete removes the entry stored under key.
func (s *ResponseStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}
