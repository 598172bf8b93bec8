package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Insert stores a new position row.
func (s *PositionStore) Insert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[p.ID] = p
	return nil
}

// GetByID retrieves a position by id.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// ListByMarket returns every position on a market, oldest first, so
// settlement enumerates positions in trade order.
func (s *PositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

// ListByUser returns a user's positions, oldest first, optionally restricted
// to one market. The market filter applies before pagination.
func (s *PositionStore) ListByUser(_ context.Context, userID, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		if marketID != "" && p.MarketID != marketID {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sortPositions(out)
	return paginate(out, opts), nil
}

// UpdateAmounts replaces the share quantity and cost basis of a position.
func (s *PositionStore) UpdateAmounts(_ context.Context, id string, shares, pointsSpent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Shares = shares
	p.PointsSpent = pointsSpent
	s.positions[id] = p
	return nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
