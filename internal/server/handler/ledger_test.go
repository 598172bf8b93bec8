package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/ledger"
	"github.com/openpredict/pointsmarket/internal/lock"
	"github.com/openpredict/pointsmarket/internal/store/memory"
)

func newLedgerHandler(t *testing.T) (*LedgerHandler, *ledger.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := lock.NewAcquirer(lock.NewLocal(), lock.Policy{})
	svc := ledger.NewService(memory.NewLedgerStore(), locks, logger)

	return NewLedgerHandler(svc, Grants{Initial: 1000, Monthly: 500}, logger), svc
}

func TestGetBalance(t *testing.T) {
	h, svc := newLedgerHandler(t)
	_, err := svc.Credit(context.Background(), "alice", 250, domain.ReasonInitial, "", "")
	require.NoError(t, err)

	rr := doRequest(t, h.GetBalance, http.MethodGet, "/api/balance", "alice", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON(t, rr)
	assert.InDelta(t, 250.0, resp["balance"], 1e-9)
	assert.Equal(t, "alice", resp["user_id"])
}

func TestGetBalance_NewUserIsZero(t *testing.T) {
	h, _ := newLedgerHandler(t)

	rr := doRequest(t, h.GetBalance, http.MethodGet, "/api/balance", "nobody", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON(t, rr)
	assert.InDelta(t, 0.0, resp["balance"], 1e-9)
}

func TestGetBalance_RequiresIdentity(t *testing.T) {
	h, _ := newLedgerHandler(t)

	rr := doRequest(t, h.GetBalance, http.MethodGet, "/api/balance", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetHistory(t *testing.T) {
	h, svc := newLedgerHandler(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, "alice", 100, domain.ReasonInitial, "", "")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "alice", 40, domain.ReasonBet, domain.RefTypeMarket, "m1")
	require.NoError(t, err)

	rr := doRequest(t, h.GetHistory, http.MethodGet, "/api/ledger", "alice", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON(t, rr)
	entries, ok := resp["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)

	// Most recent first: the bet debit.
	first := entries[0].(map[string]any)
	assert.Equal(t, string(domain.ReasonBet), first["reason"])
	assert.InDelta(t, -40.0, first["delta"], 1e-9)
	assert.InDelta(t, 60.0, first["balance"], 1e-9)
}

func TestGrant(t *testing.T) {
	h, svc := newLedgerHandler(t)

	rr := doRequest(t, h.Grant, http.MethodPost, "/api/admin/grants", "",
		map[string]any{"user_id": "bob", "kind": "initial"}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON(t, rr)
	assert.InDelta(t, 1000.0, resp["balance"], 1e-9)

	balance, err := svc.Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, balance, 1e-9)
}

func TestGrant_MonthlyTopsUp(t *testing.T) {
	h, svc := newLedgerHandler(t)
	_, err := svc.Credit(context.Background(), "bob", 1000, domain.ReasonInitial, "", "")
	require.NoError(t, err)

	rr := doRequest(t, h.Grant, http.MethodPost, "/api/admin/grants", "",
		map[string]any{"user_id": "bob", "kind": "monthly"}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON(t, rr)
	assert.InDelta(t, 1500.0, resp["balance"], 1e-9)
}

func TestGrant_Rejections(t *testing.T) {
	h, _ := newLedgerHandler(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown kind", map[string]any{"user_id": "bob", "kind": "jackpot"}},
		{"missing user", map[string]any{"kind": "initial"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h.Grant, http.MethodPost, "/api/admin/grants", "", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}
