package cache

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	ttls TTLs
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory builds the in-process cache backend. Concurrent Set calls on one
// key resolve last-write-wins; Lookup and Set are atomic per key.
func NewMemory(ttls TTLs) Store {
	return &memoryStore{
		ttls:    ttls,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// newMemoryWithClock lets tests drive expiry with a simulated clock.
func newMemoryWithClock(ttls TTLs, now func() time.Time) *memoryStore {
	return &memoryStore{ttls: ttls, now: now, entries: make(map[string]Entry)}
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, category string) error {
	now := s.now().UTC()
	entry := Entry{
		Value:     append([]byte(nil), value...),
		StoredAt:  now,
		ExpiresAt: now.Add(s.ttls.For(category)),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

func (s *memoryStore) Size(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	out := in
	out.Value = append([]byte(nil), in.Value...)
	return out
}
