package middleware

import (
	"context"
	"net/http"
	"strings"
)

// userIDKey is the context key under which the caller's user id is stored.
type userIDKey struct{}

// Identity returns middleware that extracts the caller's user id from the
// X-User-ID header and stores it in the request context. Authentication is
// performed upstream by the gateway; this service trusts the header it
// forwards. Requests without the header pass through with an empty identity,
// and handlers that need one reject with 401.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID returns the caller's user id from the request context, or "" when
// the request carried no identity.
func UserID(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}
