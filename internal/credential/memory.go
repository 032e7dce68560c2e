package credential

import (
	"context"
	"sync"
	"time"
)

// memoryStore implements Store with process-local maps. Used in tests and
// development; it provides no cross-process durability.
type memoryStore struct {
	mu          sync.RWMutex
	revocations map[string]RevocationRecord
	lastUsed    map[string]time.Time
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore() Store {
	return &memoryStore{
		revocations: make(map[string]RevocationRecord),
		lastUsed:    make(map[string]time.Time),
	}
}

// FindRevocation reports whether a revocation record exists.
func (s *memoryStore) FindRevocation(_ context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.revocations[tokenHash]
	return ok, nil
}

// RecordRevocation persists a revocation record.
func (s *memoryStore) RecordRevocation(_ context.Context, tokenHash string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.revocations[tokenHash]; ok {
		return nil
	}
	s.revocations[tokenHash] = RevocationRecord{
		TokenHash: tokenHash,
		RevokedAt: revokedAt,
	}
	return nil
}

// UpdateLastUsed records the last-used timestamp.
func (s *memoryStore) UpdateLastUsed(_ context.Context, tokenHash string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.revocations[tokenHash]; ok {
		record.LastUsedAt = &t
		s.revocations[tokenHash] = record
		return nil
	}
	s.lastUsed[tokenHash] = t
	return nil
}

// Close is a no-op for the memory store.
func (s *memoryStore) Close() error {
	return nil
}

// Ensure memoryStore implements Store.
var _ Store = (*memoryStore)(nil)
