package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/lock"
	"github.com/openpredict/pointsmarket/internal/store/memory"
)

func newTestService() (*Service, *memory.LedgerStore) {
	store := memory.NewLedgerStore()
	locks := lock.NewAcquirer(lock.NewLocal(), lock.Policy{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, locks, logger), store
}

func TestBalance_ZeroWithoutEntries(t *testing.T) {
	svc, _ := newTestService()

	balance, err := svc.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)
}

func TestCreditDebit_BalanceEqualsSumOfDeltas(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 100, domain.ReasonInitial, "", "")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "u1", 30, domain.ReasonBet, domain.RefTypeMarket, "m1")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u1", 12.5, domain.ReasonPayout, domain.RefTypeMarket, "m1")
	require.NoError(t, err)
	balance, err := svc.Debit(ctx, "u1", 2.5, domain.ReasonTip, "", "")
	require.NoError(t, err)

	assert.InDelta(t, 100-30+12.5-2.5, balance, 1e-12)

	got, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, balance, got, 1e-12)

	history, err := svc.History(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 4)

	var sum float64
	for _, e := range history {
		sum += e.Delta
	}
	assert.InDelta(t, balance, sum, 1e-12)

	// Most recent first, with snapshot balances.
	assert.Equal(t, domain.ReasonTip, history[0].Reason)
	assert.InDelta(t, balance, history[0].Balance, 1e-12)
}

func TestDebit_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 10, domain.ReasonInitial, "", "")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "u1", 50, domain.ReasonBet, domain.RefTypeMarket, "m1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance)

	history, err := svc.History(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed debit must not append an entry")
}

func TestCreditDebit_RejectNonPositiveAmounts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, amount := range []float64{0, -1} {
		_, err := svc.Credit(ctx, "u1", amount, domain.ReasonPayout, "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = svc.Debit(ctx, "u1", amount, domain.ReasonBet, "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
}

func TestConcurrentCredits_NoLostUpdates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			// Each credit retries its user lock until it lands.
			for {
				_, err := svc.Credit(ctx, "u1", 1, domain.ReasonPayout, domain.RefTypeMarket, "m1")
				if err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(workers), balance)
}

func TestEntriesByReference(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 5, domain.ReasonPayout, domain.RefTypeMarket, "m1")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u2", 7, domain.ReasonPayout, domain.RefTypeMarket, "m1")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u3", 9, domain.ReasonPayout, domain.RefTypeMarket, "m2")
	require.NoError(t, err)

	entries, err := svc.EntriesByReference(ctx, domain.RefTypeMarket, "m1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	users := []string{entries[0].UserID, entries[1].UserID}
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}
