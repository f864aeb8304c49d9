package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/repository"
)

// Recorder appends auth outcomes to the shared audit list and mirrors them to
// the structured log. Append-only.
type Recorder struct {
	repo repository.AuditRepository
	log  *slog.Logger
}

// NewRecorder creates a recorder. A nil repo disables persistence but keeps
// the log mirror.
func NewRecorder(repo repository.AuditRepository, log *slog.Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

// Record writes one audit event. Persistence failures are logged, never
// surfaced to the caller's request.
func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) {
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = logger.FromContext(ctx)
	}

	r.log.Info("audit",
		"action", event.Action,
		"identity", event.Identity,
		"cluster_id", event.ClusterID,
		"outcome", event.Outcome,
		"remote_ip", event.RemoteIP,
		"request_id", event.RequestID)

	if r.repo == nil {
		return
	}
	if err := r.repo.AppendAudit(ctx, event); err != nil {
		r.log.Error("Failed to append audit event", "action", event.Action, "error", err)
	}
}

// RequestIP extracts the caller IP for audit attribution, preferring the
// first X-Forwarded-For hop over the socket address.
func RequestIP(req *http.Request) string {
	ip := req.RemoteAddr
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			ip = strings.TrimSpace(xff[:idx])
		} else {
			ip = strings.TrimSpace(xff)
		}
	}
	return ip
}
