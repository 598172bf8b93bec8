package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openpredict/pointsmarket/internal/domain"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("store: get: %w", domain.ErrNotFound), http.StatusNotFound},
		{"already exists", domain.ErrAlreadyExists, http.StatusConflict},
		{"invalid stake", domain.ErrInvalidStake, http.StatusBadRequest},
		{"invalid title", domain.ErrInvalidTitle, http.StatusBadRequest},
		{"invalid side", domain.ErrInvalidSide, http.StatusBadRequest},
		{"invariant violation", domain.ErrInvariantViolation, http.StatusBadRequest},
		{"market not open", domain.ErrMarketNotOpen, http.StatusConflict},
		{"market expired", domain.ErrMarketExpired, http.StatusConflict},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"insufficient balance", domain.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"lock unavailable", domain.ErrLockUnavailable, http.StatusServiceUnavailable},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}

func TestWriteDomainError_HidesInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeDomainError(rr, errors.New("pq: connection refused on 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")
	assert.Contains(t, rr.Body.String(), "internal server error")
}

func TestWriteDomainError_UnwrapsToSentinel(t *testing.T) {
	rr := httptest.NewRecorder()
	writeDomainError(rr, fmt.Errorf("engine: load market %q: %w", "m1", domain.ErrMarketNotOpen))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), domain.ErrMarketNotOpen.Error())
	assert.NotContains(t, rr.Body.String(), "m1")
}

func TestParseListOpts(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=10&offset=30", 10, 30},
		{"capped", "limit=9999", 500, 0},
		{"garbage ignored", "limit=abc&offset=-4", 50, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/markets?"+tc.query, nil)
			opts := parseListOpts(r)
			assert.Equal(t, tc.wantLimit, opts.Limit)
			assert.Equal(t, tc.wantOffset, opts.Offset)
		})
	}
}
