package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/gluk-w/claworc/tunneling/internal/auth"
	"github.com/gluk-w/claworc/tunneling/internal/config"
	"github.com/gluk-w/claworc/tunneling/internal/database"
)

func setupUsers(t *testing.T) {
	t.Helper()
	auth.BcryptCost = bcrypt.MinCost
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	database.DB = db
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
	err = auth.SeedUsers([]auth.SeedUser{
		{Username: "jhub", Password: "pw", Groups: []string{auth.GroupWebservice}},
		{Username: "ops", Password: "pw", Groups: []string{auth.GroupLogs}},
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func protected() http.Handler {
	return RequestID(RequireGroup(auth.GroupWebservice)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := GetUser(r); u != nil {
			w.Header().Set("X-User", u.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	})))
}

func TestRequireGroup(t *testing.T) {
	setupUsers(t)
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no credentials", "", http.StatusUnauthorized},
		{"wrong password", basic("jhub", "nope"), http.StatusUnauthorized},
		{"unknown user", basic("ghost", "pw"), http.StatusUnauthorized},
		{"wrong group", basic("ops", "pw"), http.StatusForbidden},
		{"member", basic("jhub", "pw"), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected().ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusNoContent && rec.Header().Get("X-User") != "jhub" {
				t.Errorf("expected user in context")
			}
		})
	}
}

func TestRequireGroupAuthDisabled(t *testing.T) {
	old := config.Cfg.AuthDisabled
	config.Cfg.AuthDisabled = true
	defer func() { config.Cfg.AuthDisabled = old }()

	rec := httptest.NewRecorder()
	protected().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRequestIDKeepsOrGenerates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc123" || rec.Header().Get(CorrelationHeader) != "abc123" {
		t.Errorf("expected caller id to be kept, got %q / %q", seen, rec.Header().Get(CorrelationHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 32 {
		t.Errorf("expected a 32 character generated id, got %q", seen)
	}
	if rec.Header().Get(CorrelationHeader) != seen {
		t.Errorf("response header %q does not match %q", rec.Header().Get(CorrelationHeader), seen)
	}
}
