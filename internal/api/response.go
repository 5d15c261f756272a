package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tasksync/backend"
	"tasksync/internal/livesync"
	msync "tasksync/internal/sync"
)

// Response is the envelope of every JSON reply
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes data in the envelope with statusCode
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: statusCode < 400,
		Data:    data,
	})
}

// Error writes a failed envelope
func Error(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   msg,
	})
}

// StatusFor maps an error to the HTTP status reported to clients
func StatusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrNoUserContext):
		return http.StatusUnauthorized
	case errors.Is(err, livesync.ErrNotInitialized), errors.Is(err, msync.ErrSignedInAsOther):
		return http.StatusConflict
	case errors.Is(err, backend.ErrMergeFailed):
		return http.StatusBadGateway
	case errors.Is(err, backend.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err with its mapped status
func Fail(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), err.Error())
}
