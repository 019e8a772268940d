package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/roadview/internal/highlight"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/internal/viewer"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, highlight.ErrPointNotFound):
		return http.StatusNotFound
	case errors.Is(err, viewer.ErrUnknownMessage), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContextOr(r.Context(), logging.Noop())
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", logging.Err(err))
	} else {
		log.Debug(r.Context(), "request rejected", logging.Int("status", status), logging.Err(err))
	}
	writeJSON(w, status, errorBody{
		Error:     err.Error(),
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
