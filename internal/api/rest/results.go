package rest

import (
	"net/http"

	"github.com/kubently/kubently/internal/models"
)

// IngestResult handles POST /executor/results. Results for unknown or
// already-answered command ids are discarded with a 404 so a confused
// executor stops retrying.
func (h *Handler) IngestResult(w http.ResponseWriter, r *http.Request) {
	var result models.Result
	if status, ok := decodeJSON(w, r, &result); !ok {
		if status == http.StatusRequestEntityTooLarge {
			respondErrorWithRequestID(w, r, status, ErrCodeResourceExhausted, "Result payload too large")
			return
		}
		respondErrorWithRequestID(w, r, status, ErrCodeInvalidArgument, "Invalid result body")
		return
	}

	if err := h.commands.IngestResult(r.Context(), &result); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
