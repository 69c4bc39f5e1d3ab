package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/audit"
	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/middleware"
	"github.com/gluk-w/claworc/tunneling/internal/tunnel"
)

// RemoteReconciler is the part of the reconciler used by the API.
// *reconcile.Reconciler implements it.
type RemoteReconciler interface {
	SyncRemotes(ctx context.Context, cid string) error
	RestartHost(ctx context.Context, hostname, cid string) error
}

type hostnameRequest struct {
	Hostname string `json:"hostname"`
}

type remoteResponse struct {
	Hostname string `json:"hostname"`
	Running  bool   `json:"running"`
}

// hostnameFrom reads the hostname from the query, the hostname header or a
// JSON body, in that order.
func hostnameFrom(r *http.Request) string {
	if h := r.URL.Query().Get("hostname"); h != "" {
		return h
	}
	if h := r.Header.Get("hostname"); h != "" {
		return h
	}
	var body hostnameRequest
	if r.Body != nil && decodeBody(r, &body) == nil {
		return body.Hostname
	}
	return ""
}

func remoteOptions(r *http.Request) tunnel.RemoteOptions {
	return tunnel.RemoteOptions{CorrelationID: middleware.CorrelationID(r), AlertAdmins: true}
}

func StartRemote(w http.ResponseWriter, r *http.Request) {
	hostname := hostnameFrom(r)
	start := time.Now()
	err := Remotes.Start(r.Context(), hostname, remoteOptions(r))
	recordAudit(r, audit.EventRemoteStart, "", hostname, start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remoteResponse{Hostname: hostname, Running: true})
}

func GetRemote(w http.ResponseWriter, r *http.Request) {
	hostname := hostnameFrom(r)
	running, err := Remotes.Status(r.Context(), hostname, remoteOptions(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remoteResponse{Hostname: hostname, Running: running})
}

func StopRemote(w http.ResponseWriter, r *http.Request) {
	hostname := hostnameFrom(r)
	start := time.Now()
	err := Remotes.Stop(r.Context(), hostname, remoteOptions(r))
	recordAudit(r, audit.EventRemoteStop, "", hostname, start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func RestartHost(w http.ResponseWriter, r *http.Request) {
	hostname := hostnameFrom(r)
	if hostname == "" {
		writeBadRequest(w, r, "hostname is required")
		return
	}
	start := time.Now()
	err := Reconciler.RestartHost(r.Context(), hostname, middleware.CorrelationID(r))
	recordAudit(r, audit.EventHostRestart, "", hostname, start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hostname": hostname})
}

// RemoteCheck runs one synchronous pass over every configured remote host.
func RemoteCheck(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationID(r)
	if err := Reconciler.SyncRemotes(r.Context(), cid); err != nil {
		logging.Error("Remote check failed", logging.Fields{"uuidcode": cid, "error": err.Error()})
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
