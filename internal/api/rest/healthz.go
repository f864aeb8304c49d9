package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/kubently/kubently/internal/bus"
)

// Healthz handles GET /healthz - liveness probe (process is alive)
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz - readiness probe (Redis reachable, breaker not
// open). A replica that cannot reach the bus must not receive dispatch
// traffic.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.cmdBus.BreakerState() == bus.StateOpen {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "bus_breaker_open",
		})
		return
	}
	if err := h.cmdBus.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "redis_unavailable",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
