package memory

import (
	"context"
	"sync"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// LedgerStore implements domain.LedgerStore in memory. Entries are held in
// append order per user, which makes Latest O(1) and preserves the ledger's
// append-only semantics exactly.
type LedgerStore struct {
	mu     sync.RWMutex
	byUser map[string][]domain.LedgerEntry
	byRef  map[string][]domain.LedgerEntry
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		byUser: make(map[string][]domain.LedgerEntry),
		byRef:  make(map[string][]domain.LedgerEntry),
	}
}

func refKey(refType, refID string) string {
	return refType + ":" + refID
}

// Append adds an entry. Entries are never modified afterwards.
func (s *LedgerStore) Append(_ context.Context, e domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byUser[e.UserID] = append(s.byUser[e.UserID], e)
	if e.RefType != "" && e.RefID != "" {
		k := refKey(e.RefType, e.RefID)
		s.byRef[k] = append(s.byRef[k], e)
	}
	return nil
}

// Latest returns the most recently appended entry for the user, or
// ErrNotFound when the user has no entries.
func (s *LedgerStore) Latest(_ context.Context, userID string) (domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byUser[userID]
	if len(entries) == 0 {
		return domain.LedgerEntry{}, domain.ErrNotFound
	}
	return entries[len(entries)-1], nil
}

// ListByUser returns the user's entries, most recent first.
func (s *LedgerStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	entries := s.byUser[userID]
	reversed := make([]domain.LedgerEntry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}
	s.mu.RUnlock()

	return paginate(reversed, opts), nil
}

// ListByReference returns every entry referencing the given object, in
// append order.
func (s *LedgerStore) ListByReference(_ context.Context, refType, refID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byRef[refKey(refType, refID)]
	out := make([]domain.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
