package store

import (
	"context"
	"sync"
	"time"
)

// memorySweepInterval bounds how often Set scans for expired entries
const memorySweepInterval = time.Minute

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store for development and tests.
// Expired entries are dropped when read and swept periodically on writes.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if now := s.now(); entry.expired(now) {
		s.mu.Lock()
		// Re-check: the key may have been rewritten since the read lock was released
		if current, ok := s.entries[key]; ok && current.expired(now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set implements Store
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.now()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= memorySweepInterval {
		s.sweep(now)
	}
	s.entries[key] = entry
	return nil
}

// sweep removes expired entries. The caller holds the write lock.
func (s *MemoryStore) sweep(now time.Time) {
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

// Len returns the number of entries held, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ping implements Store
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
