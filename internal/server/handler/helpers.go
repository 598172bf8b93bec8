package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a service error onto its HTTP status and sends the
// sentinel's message. Unrecognized errors become an opaque 500 so internal
// details never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, unwrapSentinel(err).Error())
}

// statusForError maps domain sentinel errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrInvariantViolation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMarketNotOpen),
		errors.Is(err, domain.ErrMarketExpired),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrLockUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// unwrapSentinel walks the error chain to the recognized sentinel, so client
// messages carry "market not open" rather than the full wrap chain.
func unwrapSentinel(err error) error {
	for _, sentinel := range []error{
		domain.ErrNotFound, domain.ErrAlreadyExists, domain.ErrInvalidStake,
		domain.ErrInvalidAmount, domain.ErrInvalidTitle, domain.ErrInvalidSide,
		domain.ErrInvariantViolation,
		domain.ErrMarketNotOpen, domain.ErrMarketExpired, domain.ErrInvalidTransition,
		domain.ErrInsufficientBalance, domain.ErrForbidden, domain.ErrLockHeld,
		domain.ErrLockUnavailable, domain.ErrRateLimited,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

// decodeBody decodes the request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
