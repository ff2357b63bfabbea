package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/verifyd/verifyd/internal/session"
)

// JSONResponse writes a JSON response.
func JSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// ErrorResponse maps a lifecycle error onto its HTTP status and writes it.
func ErrorResponse(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyConsumed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrExpired):
		status = http.StatusGone
	default:
		status = http.StatusInternalServerError
	}
	JSONResponse(w, status, map[string]string{"detail": err.Error()})
}
