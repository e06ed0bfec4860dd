// Package cache provides the process-local snapshot store and the refresh
// coordinator that keeps it fresh against the durable store, optionally
// through a shared Redis layer.
package cache

import (
	"sync/atomic"
	"time"
)

// Source tags where a snapshot's data came from.
type Source string

const (
	// SourceInit marks the empty placeholder installed at construction.
	SourceInit Source = "init"
	// SourcePrimary marks data loaded directly from the durable store.
	SourcePrimary Source = "primary"
	// SourceDistributed marks data hydrated from the shared Redis snapshot.
	SourceDistributed Source = "distributed"
)

// Snapshot is an immutable, wholesale copy of cached state. Readers holding
// a snapshot keep seeing a consistent map even while a replacement lands.
type Snapshot[V any] struct {
	Entries   map[string]V
	ExpiresAt time.Time
	Version   int64
	Source    Source
}

// Stale reports whether the snapshot's TTL has passed at time now.
func (s *Snapshot[V]) Stale(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store holds the single active snapshot for one cache. Replacement is a
// pointer swap, so concurrent readers never observe a partially built map.
type Store[V any] struct {
	current atomic.Pointer[Snapshot[V]]
}

// NewStore creates a store seeded with an empty, already-expired init
// snapshot: the first read reports stale and triggers a refresh.
func NewStore[V any]() *Store[V] {
	s := &Store[V]{}
	s.current.Store(&Snapshot[V]{
		Entries: map[string]V{},
		Source:  SourceInit,
	})
	return s
}

// Current returns the active snapshot. Never nil.
func (s *Store[V]) Current() *Snapshot[V] {
	return s.current.Load()
}

// Get looks up one key in the active snapshot.
func (s *Store[V]) Get(key string) (V, bool) {
	v, ok := s.current.Load().Entries[key]
	return v, ok
}

// Replace atomically installs a new snapshot. The entries map must not be
// mutated by the caller afterwards; ownership transfers to the store.
func (s *Store[V]) Replace(entries map[string]V, ttl time.Duration, version int64, source Source) {
	if entries == nil {
		entries = map[string]V{}
	}
	s.current.Store(&Snapshot[V]{
		Entries:   entries,
		ExpiresAt: time.Now().Add(ttl),
		Version:   version,
		Source:    source,
	})
}
