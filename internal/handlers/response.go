// Package handlers exposes the chunked object store over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/maneesh/gridstore/internal/gridfs"
	"github.com/maneesh/gridstore/internal/logging"
)

var tracer = otel.Tracer("gridstore-handlers")

// logger is looked up per call so it follows logging.Setup
func logger() *zerolog.Logger {
	l := logging.Component("handlers")
	return &l
}

// Flash is the outcome message of a mutating request
type Flash struct {
	Success string `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger().Warn().Err(err).Msg("failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Flash{Success: message})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), Flash{Error: err.Error()})
}

// statusFor maps store errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, gridfs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gridfs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, gridfs.ErrCommit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
