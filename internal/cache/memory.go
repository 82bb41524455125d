package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store used for tests and single-node
// deployments. Expiry is checked lazily on access and reclaimed by Sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	counters map[string]memoryCounter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		counters: make(map[string]memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.now()) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || (!counter.expiresAt.IsZero() && !counter.expiresAt.After(now)) {
		counter = memoryCounter{}
	}
	counter.value += delta
	if ttl > 0 {
		counter.expiresAt = now.Add(ttl)
	}
	s.counters[key] = counter
	return counter.value, nil
}

// Sweep removes expired entries and counters.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	for key, counter := range s.counters {
		if !counter.expiresAt.IsZero() && !counter.expiresAt.After(now) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}
