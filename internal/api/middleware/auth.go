package middleware

import (
	"net/http"
	"strings"

	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/repository"
)

const (
	// APIKeyHeader carries the service credential on agent-facing routes.
	APIKeyHeader = "X-API-Key"
	// ExecutorClusterHeader names the cluster an executor authenticates for.
	ExecutorClusterHeader = "X-Cluster-ID"
)

// APIKeyAuth returns middleware that authenticates service callers by API key
// and attaches their identity to the request context. Every verification
// outcome is audited.
func APIKeyAuth(keys *auth.KeySet, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			identity, ok := keys.Verify(key)
			if !ok {
				metrics.AuthFailuresTotal.WithLabelValues("api").Inc()
				rec.Record(r.Context(), &models.AuditEvent{
					Identity: "unknown",
					Action:   models.AuditActionAPIKeyAuth,
					Outcome:  models.AuditOutcomeDenied,
					RemoteIP: audit.RequestIP(r),
				})
				unauthenticated(w, "Invalid or missing API key")
				return
			}
			rec.Record(r.Context(), &models.AuditEvent{
				Identity: identity.Name,
				Action:   models.AuditActionAPIKeyAuth,
				Outcome:  models.AuditOutcomeOK,
				RemoteIP: audit.RequestIP(r),
			})
			ctx := auth.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns middleware that rejects non-admin identities. It must
// run after APIKeyAuth.
func RequireAdmin(rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				unauthenticated(w, "Authentication required")
				return
			}
			if !identity.Admin {
				rec.Record(r.Context(), &models.AuditEvent{
					Identity: identity.Name,
					Action:   models.AuditActionAPIKeyAuth,
					Outcome:  models.AuditOutcomeDenied,
					RemoteIP: audit.RequestIP(r),
				})
				forbidden(w, "Admin identity required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExecutorAuth returns middleware that authenticates executors by bearer token
// plus cluster header. A failed match never reveals whether the cluster id or
// the token was wrong.
func ExecutorAuth(tokens repository.TokenRepository, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clusterID := r.Header.Get(ExecutorClusterHeader)
			presented := extractBearer(r)

			// GetToken returns "" for an unknown cluster, so the compare
			// below runs on every request and stays constant-time.
			stored, err := tokens.GetToken(r.Context(), clusterID)
			if err != nil {
				unauthenticated(w, "Authentication failed")
				return
			}
			if clusterID == "" || presented == "" || !auth.TokensEqual(presented, stored) {
				metrics.AuthFailuresTotal.WithLabelValues("executor").Inc()
				rec.Record(r.Context(), &models.AuditEvent{
					Identity:  "executor",
					Action:    models.AuditActionExecutorAuth,
					ClusterID: clusterID,
					Outcome:   models.AuditOutcomeDenied,
					RemoteIP:  audit.RequestIP(r),
				})
				unauthenticated(w, "Authentication failed")
				return
			}
			rec.Record(r.Context(), &models.AuditEvent{
				Identity:  "executor",
				Action:    models.AuditActionExecutorAuth,
				ClusterID: clusterID,
				Outcome:   models.AuditOutcomeOK,
				RemoteIP:  audit.RequestIP(r),
			})
			ctx := auth.WithExecutorCluster(r.Context(), clusterID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	s := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return ""
}

func unauthenticated(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"UNAUTHENTICATED"}`))
}

func forbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"UNAUTHORIZED"}`))
}
