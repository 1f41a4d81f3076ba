package token

import (
	"context"
	"sync"
	"time"
)

// pruneInterval bounds how often the in-memory set walks its entries
// looking for expired ones.
const pruneInterval = time.Minute

// MemoryRevocationSet is an in-memory RevocationSet. Expired entries
// are pruned opportunistically on access rather than by a background
// job.
type MemoryRevocationSet struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// NewMemoryRevocationSet creates an empty in-memory revocation set.
func NewMemoryRevocationSet() *MemoryRevocationSet {
	return &MemoryRevocationSet{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add marks a token id revoked until its expiry. Idempotent.
func (s *MemoryRevocationSet) Add(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	if existing, ok := s.entries[tokenID]; !ok || expiresAt.After(existing) {
		s.entries[tokenID] = expiresAt
	}
	return nil
}

// Contains reports whether the token id is currently revoked.
func (s *MemoryRevocationSet) Contains(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	expiry, ok := s.entries[tokenID]
	if !ok {
		return false, nil
	}
	// An entry past its expiry no longer needs to be tracked: the
	// expiry check alone rejects the token from here on.
	if s.now().After(expiry) {
		delete(s.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of live entries.
func (s *MemoryRevocationSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryRevocationSet) pruneLocked() {
	now := s.now()
	if now.Sub(s.lastPrune) < pruneInterval {
		return
	}
	s.lastPrune = now
	for id, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, id)
		}
	}
}
