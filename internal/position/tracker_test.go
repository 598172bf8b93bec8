package position

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/ledger"
	"github.com/openpredict/pointsmarket/internal/lock"
	"github.com/openpredict/pointsmarket/internal/store/memory"
)

func newTestTracker(t *testing.T) (*Tracker, *memory.MarketStore, *memory.PositionStore, *ledger.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := lock.NewAcquirer(lock.NewLocal(), lock.Policy{
		MaxAttempts:    50,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	markets := memory.NewMarketStore()
	positions := memory.NewPositionStore()
	ledgerSvc := ledger.NewService(memory.NewLedgerStore(), locks, logger)

	return NewTracker(positions, markets, ledgerSvc, locks, logger), markets, positions, ledgerSvc
}

func seedMarket(t *testing.T, markets *memory.MarketStore, yes, no float64, status domain.MarketStatus) domain.Market {
	t.Helper()
	m := domain.Market{
		ID:             "m1",
		Title:          "test market",
		YesShares:      yes,
		NoShares:       no,
		LiquidityParam: yes * no,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, markets.Insert(context.Background(), m))
	return m
}

func seedPosition(t *testing.T, positions *memory.PositionStore, userID string, side domain.Side, shares, spent float64) domain.Position {
	t.Helper()
	p := domain.Position{
		ID:          "p1",
		UserID:      userID,
		MarketID:    "m1",
		Side:        side,
		Shares:      shares,
		PointsSpent: spent,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, positions.Insert(context.Background(), p))
	return p
}

func TestUnrealizedPnL(t *testing.T) {
	tracker, markets, positions, _ := newTestTracker(t)
	ctx := context.Background()

	// YES price = no/(yes+no) = 150/(66.67+150) ~= 0.6923; avg price = 50/33.33 = 1.5.
	seedMarket(t, markets, 10000.0/150, 150, domain.MarketStatusOpen)
	pos := seedPosition(t, positions, "alice", domain.SideYes, 100-10000.0/150, 50)

	got, err := tracker.UnrealizedPnL(ctx, pos.ID)
	require.NoError(t, err)

	price := 150 / (10000.0/150 + 150)
	want := (price - pos.PointsSpent/pos.Shares) * pos.Shares
	assert.InDelta(t, want, got, 1e-9)
}

func TestUnrealizedPnL_MissingPosition(t *testing.T) {
	tracker, _, _, _ := newTestTracker(t)

	_, err := tracker.UnrealizedPnL(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByUser_EnrichesWithValuation(t *testing.T) {
	tracker, markets, positions, _ := newTestTracker(t)
	ctx := context.Background()

	seedMarket(t, markets, 100, 100, domain.MarketStatusOpen)
	seedPosition(t, positions, "alice", domain.SideYes, 40, 20)

	views, err := tracker.ListByUser(ctx, "alice", "", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, views, 1)

	assert.InDelta(t, 0.5, views[0].CurrentPrice, 1e-12)
	assert.InDelta(t, (0.5-0.5)*40, views[0].UnrealizedPnL, 1e-12)
}

func TestListByUser_MarketFilterAppliesBeforePagination(t *testing.T) {
	tracker, markets, positions, _ := newTestTracker(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for _, m := range []domain.Market{
		{ID: "m1", Title: "first", YesShares: 100, NoShares: 100, Status: domain.MarketStatusOpen, CreatedAt: base, UpdatedAt: base},
		{ID: "m2", Title: "second", YesShares: 100, NoShares: 100, Status: domain.MarketStatusOpen, CreatedAt: base, UpdatedAt: base},
	} {
		require.NoError(t, markets.Insert(ctx, m))
	}
	for i, p := range []domain.Position{
		{ID: "p1", UserID: "alice", MarketID: "m2", Side: domain.SideYes, Shares: 10, PointsSpent: 5},
		{ID: "p2", UserID: "alice", MarketID: "m1", Side: domain.SideYes, Shares: 20, PointsSpent: 10},
		{ID: "p3", UserID: "alice", MarketID: "m1", Side: domain.SideNo, Shares: 30, PointsSpent: 15},
	} {
		p.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, positions.Insert(ctx, p))
	}

	// Limit 1 must land on the oldest m1 position, not return an empty page
	// because an unfiltered first page held only the m2 row.
	views, err := tracker.ListByUser(ctx, "alice", "m1", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "p2", views[0].ID)

	views, err = tracker.ListByUser(ctx, "alice", "m1", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "p3", views[0].ID)
}

func TestClose_RealizesGainIntoLedger(t *testing.T) {
	tracker, markets, positions, ledgerSvc := newTestTracker(t)
	ctx := context.Background()

	// YES price 0.8, position bought at avg 0.5: closing 10 shares realizes 3.
	seedMarket(t, markets, 25, 100, domain.MarketStatusOpen)
	pos := seedPosition(t, positions, "alice", domain.SideYes, 20, 10)

	realized, err := tracker.Close(ctx, pos.ID, "alice", 10)
	require.NoError(t, err)
	assert.InDelta(t, (0.8-0.5)*10, realized, 1e-9)

	balance, err := ledgerSvc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, realized, balance, 1e-9)

	entries, err := ledgerSvc.EntriesByReference(ctx, domain.RefTypePosition, pos.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ReasonPositionClosed, entries[0].Reason)

	// Half the shares gone, half the cost basis gone: avg price unchanged.
	updated, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10, updated.Shares, 1e-12)
	assert.InDelta(t, 5, updated.PointsSpent, 1e-12)
	assert.InDelta(t, 0.5, updated.AvgPrice(), 1e-12)
}

func TestClose_SerializesConcurrentCloses(t *testing.T) {
	tracker, markets, positions, ledgerSvc := newTestTracker(t)
	ctx := context.Background()

	// YES price 0.8, avg 0.5: a full close of 20 shares realizes exactly 6.
	seedMarket(t, markets, 25, 100, domain.MarketStatusOpen)
	pos := seedPosition(t, positions, "alice", domain.SideYes, 20, 10)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Close(ctx, pos.ID, "alice", 20)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// Exactly one close wins; the loser reloads the emptied position under
	// the market lock and is rejected instead of paying out a second time.
	var succeeded, rejected int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	balance, err := ledgerSvc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, (0.8-0.5)*20, balance, 1e-9)

	entries, err := ledgerSvc.EntriesByReference(ctx, domain.RefTypePosition, pos.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClose_LossCreatesNoLedgerEntry(t *testing.T) {
	tracker, markets, positions, ledgerSvc := newTestTracker(t)
	ctx := context.Background()

	// YES price 0.2, bought at 0.5: closing realizes a loss.
	seedMarket(t, markets, 100, 25, domain.MarketStatusOpen)
	pos := seedPosition(t, positions, "alice", domain.SideYes, 20, 10)

	realized, err := tracker.Close(ctx, pos.ID, "alice", 20)
	require.NoError(t, err)
	assert.Less(t, realized, 0.0)

	balance, err := ledgerSvc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, balance)

	updated, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.Shares)
	assert.Zero(t, updated.PointsSpent)
}

func TestClose_Rejections(t *testing.T) {
	tracker, markets, positions, _ := newTestTracker(t)
	ctx := context.Background()

	seedMarket(t, markets, 100, 100, domain.MarketStatusOpen)
	pos := seedPosition(t, positions, "alice", domain.SideYes, 20, 10)

	_, err := tracker.Close(ctx, pos.ID, "mallory", 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = tracker.Close(ctx, pos.ID, "alice", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = tracker.Close(ctx, pos.ID, "alice", 25)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount,
		"cannot close more shares than held")

	_, err = tracker.Close(ctx, "ghost", "alice", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClose_RequiresOpenMarket(t *testing.T) {
	tracker, markets, positions, _ := newTestTracker(t)
	ctx := context.Background()

	seedMarket(t, markets, 100, 100, domain.MarketStatusClosed)
	pos := seedPosition(t, positions, "alice", domain.SideYes, 20, 10)

	_, err := tracker.Close(ctx, pos.ID, "alice", 10)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}
