package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/service"
)

// APIError represents a structured API error response
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Stable wire codes carried in error bodies. Clients switch on these, not on
// HTTP statuses. A fabric-side timeout is not in this list: it is surfaced as
// a status=timeout result envelope, never as a transport error.
const (
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// respondStructuredError sends a structured error response with error code and details
func respondStructuredError(w http.ResponseWriter, status int, code, message string, requestID string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := APIError{
		Error:     message,
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Details:   details,
	}
	json.NewEncoder(w).Encode(err)
}

// respondErrorWithRequestID sends a structured error carrying the request id
// from the context.
func respondErrorWithRequestID(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondStructuredError(w, status, code, message, logger.FromContext(r.Context()), nil)
}

// respondServiceError maps service sentinel errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		respondErrorWithRequestID(w, r, http.StatusBadRequest, ErrCodeInvalidArgument, err.Error())
	case errors.Is(err, service.ErrUnknownCluster):
		respondErrorWithRequestID(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondErrorWithRequestID(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, service.ErrUnknownCommand):
		respondErrorWithRequestID(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, service.ErrDuplicateResult):
		respondErrorWithRequestID(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, service.ErrResultTooLarge):
		respondErrorWithRequestID(w, r, http.StatusRequestEntityTooLarge, ErrCodeResourceExhausted, err.Error())
	case errors.Is(err, service.ErrUnavailable):
		respondErrorWithRequestID(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		respondErrorWithRequestID(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
