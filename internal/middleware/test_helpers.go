package middleware

import (
	"context"
	"net/http"

	"github.com/gluk-w/claworc/tunneling/internal/database"
)

// WithUserForTest attaches a User to the request context for testing.
func WithUserForTest(r *http.Request, user *database.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}

// WithCorrelationIDForTest attaches a correlation id to the request context.
func WithCorrelationIDForTest(r *http.Request, cid string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), correlationContextKey, cid))
}
