package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/claworc/tunneling/internal/audit"
	"github.com/gluk-w/claworc/tunneling/internal/middleware"
	"github.com/gluk-w/claworc/tunneling/internal/tunnel"
)

// Set from main.
var (
	Tunnels    *tunnel.Manager
	Remotes    *tunnel.RemoteManager
	Reconciler RemoteReconciler
)

// LabelsHeader carries extra service labels as a JSON object.
const LabelsHeader = "labels"

var (
	labelKeyRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-]*$`)
	labelValueRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*$`)
)

func parseLabels(header string) (map[string]string, error) {
	if header == "" {
		return nil, nil
	}
	var labels map[string]string
	if err := json.Unmarshal([]byte(header), &labels); err != nil {
		return nil, fmt.Errorf("labels header must be a JSON object of strings: %v", err)
	}
	for k, v := range labels {
		if !labelKeyRe.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q", k)
		}
		if !labelValueRe.MatchString(v) {
			return nil, fmt.Errorf("invalid value %q for label %q", v, k)
		}
	}
	return labels, nil
}

type startTunnelRequest struct {
	ServerName  string `json:"servername"`
	Hostname    string `json:"hostname"`
	ServiceName string `json:"svc_name"`
	ServicePort int    `json:"svc_port"`
	TargetNode  string `json:"target_node"`
	TargetPort  int    `json:"target_port"`
}

func StartTunnel(w http.ResponseWriter, r *http.Request) {
	var body startTunnelRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	labels, err := parseLabels(r.Header.Get(LabelsHeader))
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	start := time.Now()
	rec, err := Tunnels.Start(r.Context(), tunnel.StartRequest{
		ServerName:    body.ServerName,
		Hostname:      body.Hostname,
		ServiceName:   body.ServiceName,
		ServicePort:   body.ServicePort,
		TargetNode:    body.TargetNode,
		TargetPort:    body.TargetPort,
		Labels:        labels,
		CorrelationID: middleware.CorrelationID(r),
	})
	recordAudit(r, audit.EventTunnelStart, body.ServerName, body.Hostname, start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tunnel.Status{Tunnel: *rec, Running: Tunnels.PortInUse(rec.LocalPort)})
}

func ListTunnels(w http.ResponseWriter, r *http.Request) {
	list, err := Tunnels.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []tunnel.Status{}
	}
	writeJSON(w, http.StatusOK, list)
}

func GetTunnel(w http.ResponseWriter, r *http.Request) {
	st, err := Tunnels.Get(r.Context(), chi.URLParam(r, "servername"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func DeleteTunnel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "servername")
	start := time.Now()
	err := Tunnels.Delete(r.Context(), name, tunnel.Options{
		CorrelationID: middleware.CorrelationID(r),
		AlertAdmins:   true,
	})
	recordAudit(r, audit.EventTunnelStop, name, "", start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
