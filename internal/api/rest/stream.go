package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// Stream handles GET /executor/stream: a long-lived SSE connection that
// forwards published commands to the executor. The endpoint is purely a
// bridge; it validates nothing about the commands it forwards.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	clusterID := auth.ExecutorClusterFromContext(r.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorWithRequestID(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Streaming unsupported by this connection")
		return
	}

	sub, err := h.cmdBus.Subscribe(r.Context(), clusterID)
	if err != nil {
		respondErrorWithRequestID(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Command bus unavailable")
		return
	}
	defer sub.Close()

	sessionID := uuid.New().String()
	h.registry.Register(&models.ExecutorConnection{
		ClusterID:  clusterID,
		SessionID:  sessionID,
		RemoteAddr: r.RemoteAddr,
	})
	defer h.registry.Unregister(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// disable proxy buffering so events reach the executor immediately
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connected, _ := json.Marshal(models.ConnectedEvent{
		SessionID:        sessionID,
		ClusterID:        clusterID,
		KeepaliveSeconds: h.cfg.SSEKeepaliveSeconds,
	})
	if err := writeSSE(w, flusher, models.EventConnected, connected); err != nil {
		return
	}
	metrics.StreamEventsTotal.WithLabelValues(models.EventConnected).Inc()

	keepalive := time.NewTicker(time.Duration(h.cfg.SSEKeepaliveSeconds) * time.Second)
	defer keepalive.Stop()
	commands := sub.Channel()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-h.registry.Draining():
			data, _ := json.Marshal(models.ErrorEvent{Error: "server shutting down"})
			_ = writeSSE(w, flusher, models.EventError, data)
			metrics.StreamEventsTotal.WithLabelValues(models.EventError).Inc()
			return

		case <-keepalive.C:
			data, _ := json.Marshal(models.KeepaliveEvent{TS: time.Now().Unix()})
			if err := writeSSE(w, flusher, models.EventKeepalive, data); err != nil {
				return
			}
			metrics.StreamEventsTotal.WithLabelValues(models.EventKeepalive).Inc()

		case msg, open := <-commands:
			if !open {
				// subscription lost; the executor reconnects
				data, _ := json.Marshal(models.ErrorEvent{Error: "subscription closed"})
				_ = writeSSE(w, flusher, models.EventError, data)
				metrics.StreamEventsTotal.WithLabelValues(models.EventError).Inc()
				return
			}
			if err := writeSSE(w, flusher, models.EventCommand, []byte(msg.Payload)); err != nil {
				return
			}
			metrics.StreamEventsTotal.WithLabelValues(models.EventCommand).Inc()
		}
	}
}

// writeSSE frames one server-sent event and flushes it to the wire.
func writeSSE(w http.ResponseWriter, f http.Flusher, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}
