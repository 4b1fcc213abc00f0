// Package cache holds the in-memory resolution cache. Entries live for the
// process lifetime: they never expire by time and are removed only by
// explicit invalidation.
package cache

import (
	"sync"

	"github.com/jinresearch/linkbeacon/internal/links"
)

// Store maps link identities to their last-resolved metadata bundle. It is
// safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[links.Identity]links.ResolvedMetadata
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[links.Identity]links.ResolvedMetadata)}
}

// Get returns the cached metadata for identity, if any.
func (s *Store) Get(identity links.Identity) (links.ResolvedMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.entries[identity]
	return md, ok
}

// Put stores metadata for identity, replacing any prior entry wholesale.
func (s *Store) Put(identity links.Identity, md links.ResolvedMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[identity] = md
}

// Invalidate removes the entry for identity. It reports whether an entry
// existed.
func (s *Store) Invalidate(identity links.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[identity]
	delete(s.entries, identity)
	return ok
}

// Len reports the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
