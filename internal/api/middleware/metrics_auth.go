package middleware

import (
	"net/http"

	"github.com/kubently/kubently/internal/auth"
)

// MetricsAuth protects the /metrics endpoint with an optional bearer token.
// When token is empty, /metrics is publicly accessible (default for
// Prometheus scraping inside the cluster network).
func MetricsAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/metrics" || token == "" {
				next.ServeHTTP(w, r)
				return
			}
			presented := extractBearer(r)
			if presented == "" || !auth.TokensEqual(presented, token) {
				unauthenticated(w, "Authentication required for metrics endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
