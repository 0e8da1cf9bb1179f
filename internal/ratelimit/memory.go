package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in a process-local map. State is lost when the
// process restarts and is not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Record
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, limit int, window time.Duration, now time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok || rec.Expired(now, window) {
		s.entries[key] = &Record{Count: 1, WindowStart: now}
		return 1, true, nil
	}

	if rec.Count >= limit {
		return rec.Count, false, nil
	}

	rec.Count++
	return rec.Count, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.entries {
		if rec.WindowStart.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked client identifiers
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
