package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ecosim/perps-engine/internal/model"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	ledger []model.LedgerEntry
	ids    map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids: make(map[string]struct{}),
	}
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[entry.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.ID)
	}
	s.ids[entry.ID] = struct{}{}
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ledger)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]model.LedgerEntry, 0, n)
	for i := len(s.ledger) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.ledger[i])
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByPosition(_ context.Context, positionID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.PositionID == positionID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetJournalStats(_ context.Context) (*model.JournalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Aggregate(s.ledger), nil
}
