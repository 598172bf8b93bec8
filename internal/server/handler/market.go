package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openpredict/pointsmarket/internal/cpmm"
	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/engine"
	"github.com/openpredict/pointsmarket/internal/server/middleware"
)

// MarketEngine defines the mutating operations the market handler requires
// from the engine. It is declared locally so the handler package does not
// depend on the concrete service wiring.
type MarketEngine interface {
	CreateMarket(ctx context.Context, p engine.CreateParams) (domain.Market, error)
	PlaceTrade(ctx context.Context, marketID, userID string, side domain.Side, points float64) (engine.TradeResult, error)
	CloseMarket(ctx context.Context, marketID string) (domain.Market, error)
	ResolveMarket(ctx context.Context, marketID string, outcome domain.Side) (engine.SettlementResult, error)
	RecoverSettlement(ctx context.Context, marketID string) (engine.SettlementResult, error)
}

// MarketReader provides the read side served directly from the store.
type MarketReader interface {
	GetByID(ctx context.Context, id string) (domain.Market, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	engine  MarketEngine
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(eng MarketEngine, markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine:  eng,
		markets: markets,
		logger:  logger,
	}
}

// marketResponse is the wire shape of a market.
type marketResponse struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	CreatorID       string     `json:"creator_id,omitempty"`
	YesShares       float64    `json:"yes_shares"`
	NoShares        float64    `json:"no_shares"`
	PriceYes        float64    `json:"price_yes"`
	PriceNo         float64    `json:"price_no"`
	Status          string     `json:"status"`
	ResolvedOutcome *string    `json:"resolved_outcome,omitempty"`
	Sequence        int64      `json:"sequence"`
	CloseAt         *time.Time `json:"close_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toMarketResponse(m domain.Market) marketResponse {
	priceYes := cpmm.PriceYes(m.YesShares, m.NoShares)
	resp := marketResponse{
		ID:        m.ID,
		Title:     m.Title,
		CreatorID: m.CreatorID,
		YesShares: m.YesShares,
		NoShares:  m.NoShares,
		PriceYes:  priceYes,
		PriceNo:   1 - priceYes,
		Status:    string(m.Status),
		Sequence:  m.Sequence,
		CloseAt:   m.CloseAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ResolvedOutcome != nil {
		s := string(*m.ResolvedOutcome)
		resp.ResolvedOutcome = &s
	}
	return resp
}

// listMarketsResponse wraps the list endpoint output with its pagination.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns markets, newest first, with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

type createMarketRequest struct {
	Title   string     `json:"title"`
	SeedYes float64    `json:"seed_yes"`
	SeedNo  float64    `json:"seed_no"`
	CloseAt *time.Time `json:"close_at,omitempty"`
}

// CreateMarket creates a new open market seeded with the given reserves. The
// caller becomes the market's creator.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.engine.CreateMarket(r.Context(), engine.CreateParams{
		Title:     req.Title,
		CreatorID: userID,
		SeedYes:   req.SeedYes,
		SeedNo:    req.SeedNo,
		CloseAt:   req.CloseAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(market))
}

type placeTradeRequest struct {
	Side   string  `json:"side"`
	Points float64 `json:"points"`
}

// tradeResponse is the wire shape of a completed trade.
type tradeResponse struct {
	PositionID string  `json:"position_id"`
	MarketID   string  `json:"market_id"`
	Side       string  `json:"side"`
	Points     float64 `json:"points"`
	SharesOut  float64 `json:"shares_out"`
	AvgPrice   float64 `json:"avg_price"`
	PriceYes   float64 `json:"price_yes"`
	PriceNo    float64 `json:"price_no"`
	NewBalance float64 `json:"new_balance"`
	Sequence   int64   `json:"sequence"`
}

// PlaceTrade stakes points on one side of a market for the calling user.
// POST /api/markets/{id}/trades
func (h *MarketHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	marketID := pathParam(r, "id")

	var req placeTradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.PlaceTrade(r.Context(), marketID, userID, domain.Side(req.Side), req.Points)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tradeResponse{
		PositionID: result.Position.ID,
		MarketID:   marketID,
		Side:       string(result.Position.Side),
		Points:     result.Position.PointsSpent,
		SharesOut:  result.Quote.SharesOut,
		AvgPrice:   result.Quote.AvgPrice,
		PriceYes:   result.Quote.PriceYes,
		PriceNo:    result.Quote.PriceNo,
		NewBalance: result.NewBalance,
		Sequence:   result.Sequence,
	})
}

// CloseMarket stops trading on an open market.
// POST /api/admin/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.engine.CloseMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

type resolveMarketRequest struct {
	Outcome string `json:"outcome"`
}

// settlementResponse is the wire shape of a settlement run.
type settlementResponse struct {
	MarketID    string              `json:"market_id"`
	Outcome     string              `json:"outcome"`
	Paid        int                 `json:"paid"`
	Failed      int                 `json:"failed"`
	TotalPoints float64             `json:"total_points"`
	Payouts     []domain.UserPayout `json:"payouts,omitempty"`
	FailedUsers []string            `json:"failed_users,omitempty"`
	Sequence    int64               `json:"sequence"`
}

func toSettlementResponse(res engine.SettlementResult) settlementResponse {
	return settlementResponse{
		MarketID:    res.MarketID,
		Outcome:     string(res.Outcome),
		Paid:        res.Paid,
		Failed:      res.Failed,
		TotalPoints: res.TotalPoints,
		Payouts:     res.Payouts,
		FailedUsers: res.FailedUsers,
		Sequence:    res.Sequence,
	}
}

// ResolveMarket resolves a market to an outcome and settles payouts.
// POST /api/admin/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.ResolveMarket(r.Context(), pathParam(r, "id"), domain.Side(req.Outcome))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(result))
}

// RecoverSettlement retries failed payout credits on a resolved market.
// POST /api/admin/markets/{id}/recover
func (h *MarketHandler) RecoverSettlement(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RecoverSettlement(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(result))
}
