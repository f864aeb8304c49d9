package rest

import "net/http"

// ListClusters handles GET /clusters: every registered cluster with its
// activity and capability hints.
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.clusters.List(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": statuses,
		"total":    len(statuses),
	})
}
