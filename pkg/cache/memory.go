package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	expires time.Time
	value   []byte
}

// MemoryStore is a process-local Store.
// Expired entries are purged lazily on read and by PurgeExpired.
type MemoryStore struct {
	mu  sync.RWMutex
	db  map[string]memoryEntry
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		db:  make(map[string]memoryEntry),
		now: time.Now,
	}
}

// Get returns the value stored under key, or ErrCacheMiss.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.db[key]
	m.mu.RUnlock()

	if !ok {
		StoreMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}
	if !m.now().Before(entry.expires) {
		m.mu.Lock()
		// re-check under the write lock, a concurrent Set may have refreshed it
		if current, ok := m.db[key]; ok && !m.now().Before(current.expires) {
			delete(m.db, key)
		}
		m.mu.Unlock()
		StoreMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}

	StoreHits.WithLabelValues(layerMemory).Inc()
	return bytes.Clone(entry.value), nil
}

// Set stores a copy of value under key.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.db[key] = memoryEntry{
		expires: m.now().Add(ttl),
		value:   bytes.Clone(value),
	}
	m.mu.Unlock()

	StoreWrittenBytes.WithLabelValues(layerMemory).Add(float64(len(value)))
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.db, key)
	m.mu.Unlock()
	return nil
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (m *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var purged int64
	for key, entry := range m.db {
		if !now.Before(entry.expires) {
			delete(m.db, key)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.db)
}

// Close drops all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.db = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}
