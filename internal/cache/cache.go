// Package cache is a small keyed query cache. Keys are slash paths and
// invalidating a key also drops every key below it, so "companies/7"
// clears "companies/7/reports" and "companies/7/reports/42".
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Key identifies a cached query result.
type Key string

// Join builds a Key from path segments.
func Join(parts ...string) Key {
	return Key(strings.Join(parts, "/"))
}

func (k Key) covers(other Key) bool {
	return other == k || strings.HasPrefix(string(other), string(k)+"/")
}

type entry struct {
	value     any
	updatedAt time.Time
}

// Store holds query results with a per-store TTL. A zero TTL never expires.
type Store struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[Key]entry
	now     func() time.Time

	invalidations atomic.Int64
}

func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		entries: make(map[Key]entry),
		now:     time.Now,
	}
}

// Get returns the value for key if present and fresh.
func (s *Store) Get(key Key) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(e.updatedAt) >= s.ttl {
		return nil, false
	}
	return e.value, true
}

func (s *Store) Set(key Key, value any) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, updatedAt: s.now()}
	s.mu.Unlock()
}

// Invalidate drops key and everything below it. It returns the number of
// entries removed; invalidating an absent key is not an error.
func (s *Store) Invalidate(key Key) int {
	s.invalidations.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if key.covers(k) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Invalidations counts Invalidate calls since the store was created.
func (s *Store) Invalidations() int64 {
	return s.invalidations.Load()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
