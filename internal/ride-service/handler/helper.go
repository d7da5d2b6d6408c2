package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"transflow/internal/ride-service/domain"
	"transflow/internal/ride-service/ledger"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

// mapErrorToStatusCode maps domain errors to HTTP status codes
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedEvent),
		errors.Is(err, ledger.ErrAccountRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRideNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrContention):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
