package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gluk-w/claworc/tunneling/internal/logging"
)

// CorrelationHeader carries the caller's correlation id. It is echoed on
// every response.
const CorrelationHeader = "uuidcode"

const correlationContextKey contextKey = "uuidcode"

func newCorrelationID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// RequestID takes the correlation id from the request header or generates
// one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationHeader)
		if cid == "" {
			cid = newCorrelationID()
		}
		w.Header().Set(CorrelationHeader, cid)
		ctx := context.WithValue(r.Context(), correlationContextKey, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID returns the id assigned by RequestID, or "" outside of it.
func CorrelationID(r *http.Request) string {
	cid, _ := r.Context().Value(correlationContextKey).(string)
	return cid
}

// RefreshLogConfig re-reads the logging config file before each request so
// level changes apply without a restart.
func RefreshLogConfig(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.RefreshFromFile()
		next.ServeHTTP(w, r)
	})
}
