package domain

import "context"

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets. UpdateReserves and UpdateStatus bump the
// market's sequence number and return the new value; callers hold the
// per-market lock while invoking them, so returned sequences are strictly
// monotonic per market.
type MarketStore interface {
	Insert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	UpdateReserves(ctx context.Context, id string, yes, no float64) (seq int64, err error)
	UpdateStatus(ctx context.Context, id string, status MarketStatus, outcome *Side) (seq int64, err error)
}

// PositionStore persists positions. ListByUser filters by market before
// paginating when marketID is non-empty.
type PositionStore interface {
	Insert(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListByUser(ctx context.Context, userID, marketID string, opts ListOpts) ([]Position, error)
	UpdateAmounts(ctx context.Context, id string, shares, pointsSpent float64) error
}

// LedgerStore persists the append-only points ledger. Latest returns
// ErrNotFound when the user has no entries yet.
type LedgerStore interface {
	Append(ctx context.Context, e LedgerEntry) error
	Latest(ctx context.Context, userID string) (LedgerEntry, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]LedgerEntry, error)
	ListByReference(ctx context.Context, refType, refID string) ([]LedgerEntry, error)
}
