package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gluk-w/claworc/tunneling/internal/auth"
	"github.com/gluk-w/claworc/tunneling/internal/config"
	"github.com/gluk-w/claworc/tunneling/internal/database"
	"github.com/gluk-w/claworc/tunneling/internal/logging"
)

type contextKey string

const (
	userContextKey   contextKey = "user"
	groupsContextKey contextKey = "groups"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func deny(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="tunneling"`)
	}
	writeJSON(w, status, map[string]string{"error": msg, "uuidcode": CorrelationID(r)})
}

// RequireGroup authenticates the request with HTTP basic auth and requires
// the user to be a member of group.
func RequireGroup(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Cfg.AuthDisabled {
				next.ServeHTTP(w, r)
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				deny(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}

			user, groups, ok := auth.Authenticate(username, password)
			if !ok {
				logging.Warn("Authentication failed", logging.Fields{"uuidcode": CorrelationID(r), "username": username})
				deny(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !slices.Contains(groups, group) {
				logging.Warn("User not in required group", logging.Fields{
					"uuidcode": CorrelationID(r),
					"username": username,
					"group":    group,
				})
				deny(w, r, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			ctx = context.WithValue(ctx, groupsContextKey, groups)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}
