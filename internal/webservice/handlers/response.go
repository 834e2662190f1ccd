// Package handlers provides the HTTP handlers of the explorer web service.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/querymatch"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
)

// errorResponse is the body of a failed request.
type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// statusCode maps an error to its HTTP status code.
func statusCode(err error) int {
	switch {
	case errors.Is(err, urlstate.ErrInvalidRison),
		errors.Is(err, urlstate.ErrInvalidState),
		errors.Is(err, timefilter.ErrInvalidDate),
		errors.Is(err, querymatch.ErrInvalidQuery):
		return http.StatusBadRequest
	}
	return savedobjects.StatusCode(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Could not write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		slog.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "An internal server error occurred"
	}
	writeJSON(w, status, errorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    msg,
	})
}

// badRequest wraps err so that it is reported as a bad request.
func badRequest(err error) error {
	return fmt.Errorf("%w: %v", savedobjects.ErrBadRequest, err)
}
