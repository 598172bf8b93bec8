package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/server/middleware"
)

// LedgerService defines what the ledger handler requires from the points
// ledger.
type LedgerService interface {
	Balance(ctx context.Context, userID string) (float64, error)
	Credit(ctx context.Context, userID string, amount float64, reason domain.LedgerReason, refType, refID string) (float64, error)
	History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// Grants holds the configured issuance amounts for the admin grant endpoint.
type Grants struct {
	Initial float64
	Monthly float64
}

// LedgerHandler serves balance and ledger HTTP endpoints.
type LedgerHandler struct {
	ledger LedgerService
	grants Grants
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, grants Grants, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		grants: grants,
		logger: logger,
	}
}

// GetBalance returns the calling user's current points balance.
// GET /api/balance
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "balance lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

// ledgerEntryResponse is the wire shape of one ledger entry.
type ledgerEntryResponse struct {
	ID        string    `json:"id"`
	Delta     float64   `json:"delta"`
	Balance   float64   `json:"balance"`
	Reason    string    `json:"reason"`
	RefType   string    `json:"ref_type,omitempty"`
	RefID     string    `json:"ref_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GetHistory returns the calling user's ledger entries, most recent first.
// GET /api/ledger?limit=50&offset=0
func (h *LedgerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	entries, err := h.ledger.History(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "ledger history failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get ledger history")
		return
	}

	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:        e.ID,
			Delta:     e.Delta,
			Balance:   e.Balance,
			Reason:    string(e.Reason),
			RefType:   e.RefType,
			RefID:     e.RefID,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type grantRequest struct {
	UserID string `json:"user_id"`
	// Kind selects the issuance: "initial" or "monthly".
	Kind string `json:"kind"`
}

// Grant credits a configured issuance amount to a user. Operator-only; the
// routine monthly run drives this endpoint once per user per cycle.
// POST /api/admin/grants
func (h *LedgerHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	var (
		amount float64
		reason domain.LedgerReason
	)
	switch req.Kind {
	case "initial":
		amount, reason = h.grants.Initial, domain.ReasonInitial
	case "monthly":
		amount, reason = h.grants.Monthly, domain.ReasonMonthlyGrant
	default:
		writeError(w, http.StatusBadRequest, "kind must be \"initial\" or \"monthly\"")
		return
	}

	balance, err := h.ledger.Credit(r.Context(), req.UserID, amount, reason, "", "")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "grant issued",
		slog.String("user_id", req.UserID),
		slog.String("kind", req.Kind),
		slog.Float64("amount", amount),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": req.UserID,
		"kind":    req.Kind,
		"amount":  amount,
		"balance": balance,
	})
}
