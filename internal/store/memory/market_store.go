// Package memory implements the domain store and broadcast interfaces with
// in-process data structures. It backs the storage.driver = "memory" runtime
// option for single-node deployments and doubles as the fixture layer for
// service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// MarketStore implements domain.MarketStore in memory.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewMarketStore creates an empty in-memory market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[string]domain.Market)}
}

// Insert stores a new market. Fails with ErrAlreadyExists on id collision.
func (s *MarketStore) Insert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.ID] = m
	return nil
}

// GetByID retrieves a market by id.
func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// List returns markets ordered by creation time, newest first.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	all := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		all = append(all, m)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	return paginate(all, opts), nil
}

// UpdateReserves replaces the reserve pools and bumps the sequence number.
func (s *MarketStore) UpdateReserves(_ context.Context, id string, yes, no float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	m.YesShares = yes
	m.NoShares = no
	m.Sequence++
	s.markets[id] = m
	return m.Sequence, nil
}

// UpdateStatus replaces the lifecycle status (and, for resolutions, the
// outcome) and bumps the sequence number.
func (s *MarketStore) UpdateStatus(_ context.Context, id string, status domain.MarketStatus, outcome *domain.Side) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	m.Status = status
	m.ResolvedOutcome = outcome
	m.Sequence++
	s.markets[id] = m
	return m.Sequence, nil
}

// paginate applies Limit/Offset to a pre-sorted slice.
func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
