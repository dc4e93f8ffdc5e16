package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
)

// SetCall records one Set on a RecordingStore.
type SetCall struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// RecordingStore wraps a cache.Store, recording calls and injecting failures.
type RecordingStore struct {
	cache.Store

	mu       sync.Mutex
	gets     int
	sets     []SetCall
	getErr   error
	getPanic bool
	setErr   error
	setPanic bool
	setGate  chan struct{}

	// failSetKey limits setErr to matching keys when set
	failSetKey func(key string) bool
}

// NewRecordingStore wraps an in-memory store.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{Store: cache.NewMemoryStore()}
}

// FailGet makes every subsequent Get return err (nil restores normal reads).
func (s *RecordingStore) FailGet(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// PanicOnGet makes every subsequent Get panic.
func (s *RecordingStore) PanicOnGet() {
	s.mu.Lock()
	s.getPanic = true
	s.mu.Unlock()
}

// FailSet makes every subsequent Set return err (nil restores normal writes).
func (s *RecordingStore) FailSet(err error) {
	s.mu.Lock()
	s.setErr = err
	s.failSetKey = nil
	s.mu.Unlock()
}

// FailSetKey makes subsequent Sets of keys accepted by match return err.
// Other keys are written normally.
func (s *RecordingStore) FailSetKey(match func(key string) bool, err error) {
	s.mu.Lock()
	s.setErr = err
	s.failSetKey = match
	s.mu.Unlock()
}

// PanicOnSet makes every subsequent Set panic.
func (s *RecordingStore) PanicOnSet() {
	s.mu.Lock()
	s.setPanic = true
	s.mu.Unlock()
}

// BlockSets holds every subsequent Set until the returned release func is
// called.
func (s *RecordingStore) BlockSets() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.setGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Get implements cache.Store.
func (s *RecordingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	err, panics := s.getErr, s.getPanic
	s.mu.Unlock()

	if panics {
		panic("injected store panic")
	}
	if err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, key)
}

// Set implements cache.Store.
func (s *RecordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.sets = append(s.sets, SetCall{Key: key, Value: append([]byte(nil), value...), TTL: ttl})
	err, panics, gate := s.setErr, s.setPanic, s.setGate
	if s.failSetKey != nil && !s.failSetKey(key) {
		err = nil
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panics {
		panic("injected store panic")
	}
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value, ttl)
}

// Gets returns the number of Get calls.
func (s *RecordingStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Sets returns the recorded Set calls.
func (s *RecordingStore) Sets() []SetCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SetCall(nil), s.sets...)
}
