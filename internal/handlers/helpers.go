package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/middleware"
	"github.com/gluk-w/claworc/tunneling/internal/tunnel"
)

// Non-standard status codes understood by the hub side.
const (
	StatusConnectionUnavailable = 550
	StatusTunnelFailed          = 551
	StatusRemoteFailed          = 552
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error         string `json:"error"`
	DetailedError string `json:"detailed_error"`
	UUIDCode      string `json:"uuidcode"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tunnel.ErrConnectionUnavailable):
		return StatusConnectionUnavailable
	case errors.Is(err, tunnel.ErrTunnelStartFailed),
		errors.Is(err, tunnel.ErrTunnelStopFailed),
		errors.Is(err, tunnel.ErrServiceRegistrationFailed):
		return StatusTunnelFailed
	case errors.Is(err, tunnel.ErrRemoteActionFailed):
		return StatusRemoteFailed
	case errors.Is(err, tunnel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tunnel.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError maps a lifecycle error to its status code and error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), UUIDCode: middleware.CorrelationID(r)}

	var te *tunnel.Error
	if errors.As(err, &te) {
		body.Error = te.Kind.Error()
		body.DetailedError = te.Detail()
	}
	if status == http.StatusInternalServerError {
		logging.Error("Unexpected error", logging.Fields{
			"uuidcode": body.UUIDCode,
			"path":     r.URL.Path,
			"error":    err.Error(),
		})
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:         tunnel.ErrInvalidRequest.Error(),
		DetailedError: detail,
		UUIDCode:      middleware.CorrelationID(r),
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
