package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gluk-w/claworc/tunneling/internal/audit"
	"github.com/gluk-w/claworc/tunneling/internal/database"
)

func TestAuditTrail(t *testing.T) {
	env := setupTestEnv(t)
	audit.SetGlobalForTest(audit.NewAuditor(database.DB, 0))
	defer audit.ResetGlobalForTest()

	w := httptest.NewRecorder()
	StartTunnel(w, newChiRequest("POST", "/api/tunnel/", nil, tunnelBody(t, "srv1")))
	env.codes["forward"] = 255
	w = httptest.NewRecorder()
	StartTunnel(w, newChiRequest("POST", "/api/tunnel/", nil, tunnelBody(t, "srv2")))

	w = httptest.NewRecorder()
	GetAuditLogs(w, newChiRequest("GET", "/api/audit/?event_type=tunnel_start", nil, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res audit.QueryResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("expected 2 entries, got %d", res.Total)
	}
	byName := map[string]database.AuditLog{}
	for _, e := range res.Entries {
		byName[e.ServerName] = e
	}
	if !byName["srv1"].Success || byName["srv2"].Success {
		t.Errorf("unexpected outcomes %+v", res.Entries)
	}
	if byName["srv2"].Details == "" || byName["srv1"].UUIDCode != "cid-1" {
		t.Errorf("missing details or uuidcode %+v", res.Entries)
	}

	w = httptest.NewRecorder()
	GetAuditLogs(w, newChiRequest("GET", "/api/audit/?since=yesterday", nil, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid since: expected 400, got %d", w.Code)
	}
}

func TestAuditLogsDisabled(t *testing.T) {
	setupTestEnv(t)
	audit.ResetGlobalForTest()
	w := httptest.NewRecorder()
	GetAuditLogs(w, newChiRequest("GET", "/api/audit/", nil, nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
