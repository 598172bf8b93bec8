package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/engine"
	"github.com/openpredict/pointsmarket/internal/ledger"
	"github.com/openpredict/pointsmarket/internal/lock"
	"github.com/openpredict/pointsmarket/internal/server/middleware"
	"github.com/openpredict/pointsmarket/internal/store/memory"
)

type marketFixture struct {
	handler *MarketHandler
	eng     *engine.Service
	ledger  *ledger.Service
}

func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := lock.NewAcquirer(lock.NewLocal(), lock.Policy{})
	markets := memory.NewMarketStore()
	ledgerSvc := ledger.NewService(memory.NewLedgerStore(), locks, logger)
	eng := engine.NewService(
		markets, memory.NewPositionStore(), ledgerSvc, locks,
		memory.NewBroadcaster(), nil, logger,
	)

	return &marketFixture{
		handler: NewMarketHandler(eng, markets, logger),
		eng:     eng,
		ledger:  ledgerSvc,
	}
}

// doRequest runs a handler through the identity middleware the way the
// server mux does, returning the recorded response.
func doRequest(t *testing.T, h http.HandlerFunc, method, target, userID string, body any, pathVals map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for k, v := range pathVals {
		req.SetPathValue(k, v)
	}

	rr := httptest.NewRecorder()
	middleware.Identity()(h).ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateMarket(t *testing.T) {
	f := newMarketFixture(t)

	rr := doRequest(t, f.handler.CreateMarket, http.MethodPost, "/api/markets", "alice",
		map[string]any{"title": "Will it rain tomorrow?", "seed_yes": 100.0, "seed_no": 100.0}, nil)

	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decodeJSON(t, rr)
	assert.Equal(t, "Will it rain tomorrow?", resp["title"])
	assert.Equal(t, "alice", resp["creator_id"])
	assert.Equal(t, "open", resp["status"])
	assert.InDelta(t, 0.5, resp["price_yes"], 1e-9)
	assert.InDelta(t, 0.5, resp["price_no"], 1e-9)
	assert.NotEmpty(t, resp["id"])
}

func TestCreateMarket_RequiresIdentity(t *testing.T) {
	f := newMarketFixture(t)

	rr := doRequest(t, f.handler.CreateMarket, http.MethodPost, "/api/markets", "",
		map[string]any{"title": "x", "seed_yes": 1.0, "seed_no": 1.0}, nil)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateMarket_RejectsUnknownFields(t *testing.T) {
	f := newMarketFixture(t)

	rr := doRequest(t, f.handler.CreateMarket, http.MethodPost, "/api/markets", "alice",
		map[string]any{"title": "x", "seed_yes": 1.0, "seed_no": 1.0, "bogus": true}, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateMarket_ZeroSeed(t *testing.T) {
	f := newMarketFixture(t)

	rr := doRequest(t, f.handler.CreateMarket, http.MethodPost, "/api/markets", "alice",
		map[string]any{"title": "x", "seed_yes": 0.0, "seed_no": 100.0}, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetMarket_NotFound(t *testing.T) {
	f := newMarketFixture(t)

	rr := doRequest(t, f.handler.GetMarket, http.MethodGet, "/api/markets/ghost", "",
		nil, map[string]string{"id": "ghost"})

	require.Equal(t, http.StatusNotFound, rr.Code)
	resp := decodeJSON(t, rr)
	assert.Equal(t, "not found", resp["error"])
}

func TestPlaceTrade(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Credit(ctx, "alice", 200, domain.ReasonInitial, "", "")
	require.NoError(t, err)
	m, err := f.eng.CreateMarket(ctx, engine.CreateParams{
		Title: "t", CreatorID: "alice", SeedYes: 100, SeedNo: 100,
	})
	require.NoError(t, err)

	rr := doRequest(t, f.handler.PlaceTrade, http.MethodPost, "/api/markets/"+m.ID+"/trades", "alice",
		map[string]any{"side": "yes", "points": 50.0}, map[string]string{"id": m.ID})

	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decodeJSON(t, rr)
	assert.Equal(t, m.ID, resp["market_id"])
	assert.Equal(t, "yes", resp["side"])
	assert.InDelta(t, 150.0, resp["new_balance"], 1e-9)
	assert.EqualValues(t, 1, resp["sequence"])
	assert.Greater(t, resp["shares_out"], 0.0)
}

func TestPlaceTrade_InsufficientBalance(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	m, err := f.eng.CreateMarket(ctx, engine.CreateParams{
		Title: "t", CreatorID: "alice", SeedYes: 100, SeedNo: 100,
	})
	require.NoError(t, err)

	rr := doRequest(t, f.handler.PlaceTrade, http.MethodPost, "/api/markets/"+m.ID+"/trades", "broke",
		map[string]any{"side": "no", "points": 50.0}, map[string]string{"id": m.ID})

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
}

func TestPlaceTrade_InvalidSide(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	m, err := f.eng.CreateMarket(ctx, engine.CreateParams{
		Title: "t", CreatorID: "alice", SeedYes: 100, SeedNo: 100,
	})
	require.NoError(t, err)

	rr := doRequest(t, f.handler.PlaceTrade, http.MethodPost, "/api/markets/"+m.ID+"/trades", "alice",
		map[string]any{"side": "maybe", "points": 50.0}, map[string]string{"id": m.ID})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveMarket(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	m, err := f.eng.CreateMarket(ctx, engine.CreateParams{
		Title: "t", CreatorID: "alice", SeedYes: 100, SeedNo: 100,
	})
	require.NoError(t, err)

	rr := doRequest(t, f.handler.ResolveMarket, http.MethodPost, "/api/admin/markets/"+m.ID+"/resolve", "",
		map[string]any{"outcome": "yes"}, map[string]string{"id": m.ID})

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON(t, rr)
	assert.Equal(t, "yes", resp["outcome"])

	// A second resolve is an invalid transition.
	rr = doRequest(t, f.handler.ResolveMarket, http.MethodPost, "/api/admin/markets/"+m.ID+"/resolve", "",
		map[string]any{"outcome": "yes"}, map[string]string{"id": m.ID})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListMarkets(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		_, err := f.eng.CreateMarket(ctx, engine.CreateParams{
			Title: title, CreatorID: "alice", SeedYes: 10, SeedNo: 10,
		})
		require.NoError(t, err)
	}

	rr := doRequest(t, f.handler.ListMarkets, http.MethodGet, "/api/markets?limit=2", "", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Markets, 2)
	assert.Equal(t, 2, resp.Limit)
}
