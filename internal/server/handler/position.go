package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/position"
	"github.com/openpredict/pointsmarket/internal/server/middleware"
)

// PositionTracker defines what the position handler requires from the
// tracker.
type PositionTracker interface {
	ListByUser(ctx context.Context, userID, marketID string, opts domain.ListOpts) ([]position.View, error)
	Close(ctx context.Context, positionID, callerID string, quantity float64) (float64, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	tracker PositionTracker
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(tracker PositionTracker, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		tracker: tracker,
		logger:  logger,
	}
}

// positionResponse is the wire shape of a position with its valuation.
type positionResponse struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	Side          string    `json:"side"`
	Shares        float64   `json:"shares"`
	PointsSpent   float64   `json:"points_spent"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	CreatedAt     time.Time `json:"created_at"`
}

func toPositionResponse(v position.View) positionResponse {
	return positionResponse{
		ID:            v.ID,
		MarketID:      v.MarketID,
		Side:          string(v.Side),
		Shares:        v.Shares,
		PointsSpent:   v.PointsSpent,
		AvgPrice:      v.AvgPrice(),
		CurrentPrice:  v.CurrentPrice,
		UnrealizedPnL: v.UnrealizedPnL,
		CreatedAt:     v.CreatedAt,
	}
}

// ListPositions returns the calling user's positions with mark-to-market
// valuation, optionally narrowed to a single market.
// GET /api/positions?limit=50&offset=0&market_id=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	views, err := h.tracker.ListByUser(r.Context(), userID, r.URL.Query().Get("market_id"), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]positionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toPositionResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

type closePositionRequest struct {
	Quantity float64 `json:"quantity"`
}

// ClosePosition sells shares back at the current curve price, realizing any
// positive PnL into the caller's ledger.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req closePositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	realized, err := h.tracker.Close(r.Context(), pathParam(r, "id"), userID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"position_id":  pathParam(r, "id"),
		"quantity":     req.Quantity,
		"realized_pnl": realized,
	})
}
