package store

import (
	"context"
	"sync"

	"tollgate-hq/meridian/pkg/ledger"
)

// MemoryStore implements ledger.Store with in-memory state. All data is
// lost when the process exits.
//
// Each principal gets its own entry with its own mutex, so charges for
// distinct principals proceed fully in parallel while charges for the
// same principal serialize through one lock - the in-process equivalent
// of a single-owner worker per key.
type MemoryStore struct {
	// mu guards the entries map itself, not the records.
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// memoryEntry serializes all mutations for one principal.
type memoryEntry struct {
	mu  sync.Mutex
	rec *ledger.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

// Get returns a copy of the record for a principal, or nil if absent.
func (s *MemoryStore) Get(ctx context.Context, principalID string) (*ledger.Record, error) {
	s.mu.RLock()
	entry, ok := s.entries[principalID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Clone(), nil
}

// Create inserts rec only if no record exists for its principal.
func (s *MemoryStore) Create(ctx context.Context, rec *ledger.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[rec.PrincipalID]; exists {
		return false, nil
	}
	s.entries[rec.PrincipalID] = &memoryEntry{rec: rec.Clone()}
	return true, nil
}

// Put unconditionally overwrites the record for rec's principal.
// The map lock is held for the whole write: dropping it before taking
// the entry lock would let a concurrent Delete orphan the entry and
// silently lose this write. Put is an administrative path, so the
// coarser lock costs nothing that matters.
func (s *MemoryStore) Put(ctx context.Context, rec *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[rec.PrincipalID]
	if !ok {
		s.entries[rec.PrincipalID] = &memoryEntry{rec: rec.Clone()}
		return nil
	}

	entry.mu.Lock()
	entry.rec = rec.Clone()
	entry.mu.Unlock()
	return nil
}

// Charge executes one charge transition under the principal's lock.
func (s *MemoryStore) Charge(ctx context.Context, principalID string, args ledger.ChargeArgs) (*ledger.Outcome, error) {
	s.mu.RLock()
	entry, ok := s.entries[principalID]
	s.mu.RUnlock()
	if !ok {
		return nil, ledger.ErrNoBudget
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	outcome, err := ledger.ApplyCharge(entry.rec, args)
	if err != nil {
		return nil, err
	}
	if outcome.Accepted {
		entry.rec = outcome.Record.Clone()
	}
	return outcome, nil
}

// SetStatus atomically flips the administrative status of a record.
func (s *MemoryStore) SetStatus(ctx context.Context, principalID string, status ledger.Status) error {
	s.mu.RLock()
	entry, ok := s.entries[principalID]
	s.mu.RUnlock()
	if !ok {
		return ledger.ErrNoBudget
	}

	entry.mu.Lock()
	entry.rec.Status = status
	entry.mu.Unlock()
	return nil
}

// List returns copies of all records.
func (s *MemoryStore) List(ctx context.Context) ([]*ledger.Record, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	records := make([]*ledger.Record, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		records = append(records, entry.rec.Clone())
		entry.mu.Unlock()
	}
	return records, nil
}

// Delete removes the record for a principal. No-op if absent.
func (s *MemoryStore) Delete(ctx context.Context, principalID string) error {
	s.mu.Lock()
	delete(s.entries, principalID)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
