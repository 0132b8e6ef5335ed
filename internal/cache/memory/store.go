// Package memory provides an in-process cache store with a fixed capacity.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// Store keeps entries in a map guarded by a RWMutex. Writes for new keys are
// rejected once the map is full; nothing is ever evicted to make room, and
// expired entries are only reclaimed when a Get observes them.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]search.CacheEntry
	capacity int
	clock    search.Clock
}

// New constructs a Store holding at most capacity entries.
func New(capacity int, clock search.Clock) *Store {
	return &Store{
		entries:  make(map[string]search.CacheEntry, capacity),
		capacity: capacity,
		clock:    clock,
	}
}

// Get returns the entry for key. Expired entries are deleted and reported
// as absent.
func (s *Store) Get(_ context.Context, key string) (search.CacheEntry, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return search.CacheEntry{}, false, nil
	}
	if entry.Expired(s.clock.Now()) {
		s.mu.Lock()
		// A concurrent Put may have refreshed the key after we released
		// the read lock; only delete the entry we actually observed.
		if current, still := s.entries[key]; still && current.CreatedAt.Equal(entry.CreatedAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return search.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put stores entry. New keys are rejected with search.ErrCacheCapacity when
// the store is full; overwrites of existing keys always succeed.
func (s *Store) Put(_ context.Context, entry search.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Key]; !exists && len(s.entries) >= s.capacity {
		return fmt.Errorf("store %q: %w", entry.Key, search.ErrCacheCapacity)
	}
	s.entries[entry.Key] = entry
	return nil
}

// Close satisfies search.CacheStore; the store holds no external resources.
func (s *Store) Close(context.Context) error {
	return nil
}

// Len reports the number of entries currently held, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
