package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/audit"
	"github.com/gluk-w/claworc/tunneling/internal/middleware"
)

func recordAudit(r *http.Request, event, serverName, hostname string, start time.Time, err error) {
	e := audit.Entry{
		EventType:  event,
		ServerName: serverName,
		Hostname:   hostname,
		SourceIP:   r.RemoteAddr,
		UUIDCode:   middleware.CorrelationID(r),
		Success:    err == nil,
		Duration:   time.Since(start),
	}
	if u := middleware.GetUser(r); u != nil {
		e.Username = u.Username
	}
	if err != nil {
		e.Details = err.Error()
	}
	audit.Record(e)
}

func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	a := audit.GetAuditor()
	if a == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "audit log not enabled", UUIDCode: middleware.CorrelationID(r)})
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		EventType:  q.Get("event_type"),
		ServerName: q.Get("servername"),
		Hostname:   q.Get("hostname"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, r, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, r, "invalid offset")
			return
		}
		opts.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, r, "since must be RFC3339")
			return
		}
		opts.Since = &t
	}

	res, err := a.Query(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
