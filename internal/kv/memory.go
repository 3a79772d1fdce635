package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps values in a process-local map. Data does not survive restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	now    func() time.Time
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	item, ok := s.items[key]
	if !ok || isExpired(s.now(), item.expiresAt) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	s.items[key] = memoryItem{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFor(s.now(), ttl),
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	delete(s.items, key)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = make(map[string]memoryItem)
	return nil
}

// PurgeExpired implements Sweeper.
func (s *MemoryStore) PurgeExpired(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	purged := 0
	for key, item := range s.items {
		if isExpired(now, item.expiresAt) {
			delete(s.items, key)
			purged++
		}
	}
	return purged, nil
}

var errStoreClosed = errors.New("kv: store closed")
