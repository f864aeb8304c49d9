package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

type mintTokenBody struct {
	Token string `json:"token,omitempty"`
}

// MintToken handles POST /admin/executors/{cluster_id}/token. An optional
// body supplies an operator-chosen token; otherwise one is generated. The
// plaintext is returned exactly once.
func (h *Handler) MintToken(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["cluster_id"]

	var body mintTokenBody
	if err := decodeOptionalJSON(r, &body); err != nil {
		respondErrorWithRequestID(w, r, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid request body")
		return
	}

	token, err := h.tokens.Mint(r.Context(), clusterID, body.Token)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"cluster_id": clusterID,
		"token":      token,
	})
}

// RevokeToken handles DELETE /admin/executors/{cluster_id}/token.
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["cluster_id"]

	if err := h.tokens.Revoke(r.Context(), clusterID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"cluster_id": clusterID,
		"status":     "revoked",
	})
}

// ListExecutors handles GET /admin/executors: the executor streams connected
// to this replica. Other replicas hold their own registries.
func (h *Handler) ListExecutors(w http.ResponseWriter, r *http.Request) {
	conns := h.registry.Connections()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executors": conns,
		"total":     len(conns),
	})
}

// RecentAudit handles GET /admin/audit?limit=N: the newest auth audit events.
func (h *Handler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	events, err := h.repo.Audit.RecentAudit(r.Context(), int64(limit))
	if err != nil {
		respondErrorWithRequestID(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Audit log unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// decodeOptionalJSON decodes a body that may legitimately be empty.
func decodeOptionalJSON(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
