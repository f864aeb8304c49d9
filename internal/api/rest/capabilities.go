package rest

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/service"
)

// ReportCapabilities handles POST /executor/capabilities: the executor
// advertises its security mode and allow-list after connecting.
func (h *Handler) ReportCapabilities(w http.ResponseWriter, r *http.Request) {
	clusterID := auth.ExecutorClusterFromContext(r.Context())

	var rec models.CapabilityRecord
	if status, ok := decodeJSON(w, r, &rec); !ok {
		respondErrorWithRequestID(w, r, status, ErrCodeInvalidArgument, "Invalid capability payload")
		return
	}

	if err := h.caps.Report(r.Context(), clusterID, &rec); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// Heartbeat handles POST /executor/heartbeat: refreshes the capability TTL.
// A 404 tells the executor its record expired and it must re-report.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	clusterID := auth.ExecutorClusterFromContext(r.Context())

	if err := h.caps.Heartbeat(r.Context(), clusterID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondErrorWithRequestID(w, r, http.StatusNotFound, ErrCodeNotFound, "No capability record to refresh")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// GetClusterCapabilities handles GET /clusters/{id}/capabilities for agents
// deciding what a cluster permits before dispatching.
func (h *Handler) GetClusterCapabilities(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["id"]

	rec, err := h.caps.Get(r.Context(), clusterID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondErrorWithRequestID(w, r, http.StatusNotFound, ErrCodeNotFound, "No capability record for cluster")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
