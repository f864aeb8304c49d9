package rest

import (
	"net/http"

	"github.com/kubently/kubently/internal/models"
)

// Execute handles POST /debug/execute: dispatch one command and block until
// its result arrives or the deadline passes. A fabric-side timeout is not an
// HTTP error shape; the synthesized envelope rides a 408.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteRequest
	if status, ok := decodeJSON(w, r, &req); !ok {
		if status == http.StatusRequestEntityTooLarge {
			respondErrorWithRequestID(w, r, status, ErrCodeResourceExhausted, "Request body too large")
			return
		}
		respondErrorWithRequestID(w, r, status, ErrCodeInvalidArgument, "Invalid request body")
		return
	}

	resp, err := h.commands.Execute(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if resp.Status == models.StatusTimeout {
		respondJSON(w, http.StatusRequestTimeout, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
