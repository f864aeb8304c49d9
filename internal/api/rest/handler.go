package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/api/middleware"
	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/repository"
	"github.com/kubently/kubently/internal/service"
)

// Handler manages HTTP request handlers
type Handler struct {
	commands service.CommandService
	caps     service.CapabilityService
	tokens   service.TokenService
	clusters service.ClusterService
	registry *service.StreamRegistry

	cmdBus *bus.CommandBus
	repo   *repository.Repository
	keys   *auth.KeySet
	audit  *audit.Recorder
	cfg    *config.Config
}

// Deps carries the wiring a Handler needs.
type Deps struct {
	Commands service.CommandService
	Caps     service.CapabilityService
	Tokens   service.TokenService
	Clusters service.ClusterService
	Registry *service.StreamRegistry
	Bus      *bus.CommandBus
	Repo     *repository.Repository
	Keys     *auth.KeySet
	Audit    *audit.Recorder
	Config   *config.Config
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		commands: d.Commands,
		caps:     d.Caps,
		tokens:   d.Tokens,
		clusters: d.Clusters,
		registry: d.Registry,
		cmdBus:   d.Bus,
		repo:     d.Repo,
		keys:     d.Keys,
		audit:    d.Audit,
		cfg:      d.Config,
	}
}

// SetupRoutes configures API routes. Auth boundaries are per surface:
// executor routes take the bearer token, agent routes the API key, admin
// routes an admin-scoped key.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/healthz", h.Healthz).Methods("GET")
	router.HandleFunc("/readyz", h.Readyz).Methods("GET")

	executorAuth := middleware.ExecutorAuth(h.repo.Token, h.audit)
	apiAuth := middleware.APIKeyAuth(h.keys, h.audit)
	adminOnly := middleware.RequireAdmin(h.audit)
	// one shared limiter so /debug and /clusters draw from the same budget
	limit := middleware.RateLimit(h.cfg.RateLimitPerSec, h.cfg.RateLimitBurst)

	executor := router.PathPrefix("/executor").Subrouter()
	executor.Use(executorAuth)
	executor.HandleFunc("/stream", h.Stream).Methods("GET")
	executor.HandleFunc("/results", h.IngestResult).Methods("POST")
	executor.HandleFunc("/capabilities", h.ReportCapabilities).Methods("POST")
	executor.HandleFunc("/heartbeat", h.Heartbeat).Methods("POST")

	debug := router.PathPrefix("/debug").Subrouter()
	debug.Use(apiAuth, limit)
	debug.HandleFunc("/execute", h.Execute).Methods("POST")

	clusters := router.PathPrefix("/clusters").Subrouter()
	clusters.Use(apiAuth, limit)
	clusters.HandleFunc("", h.ListClusters).Methods("GET")
	clusters.HandleFunc("/{id}/capabilities", h.GetClusterCapabilities).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(apiAuth, adminOnly, limit)
	admin.HandleFunc("/executors/{cluster_id}/token", h.MintToken).Methods("POST")
	admin.HandleFunc("/executors/{cluster_id}/token", h.RevokeToken).Methods("DELETE")
	admin.HandleFunc("/executors", h.ListExecutors).Methods("GET")
	admin.HandleFunc("/audit", h.RecentAudit).Methods("GET")
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON decodes a request body, distinguishing oversized payloads from
// malformed ones.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) (int, bool) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, false
		}
		return http.StatusBadRequest, false
	}
	return 0, true
}
