package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// identityRateLimiter holds one token bucket per caller identity.
type identityRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIdentityRateLimiter(perSec float64, burst int) *identityRateLimiter {
	return &identityRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSec),
		burst:    burst,
	}
}

func (l *identityRateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = lim
	return lim
}

// limiterKey buckets by authenticated identity so one noisy service cannot
// starve the others; unauthenticated probes share the client IP bucket.
func limiterKey(r *http.Request) string {
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		return "identity:" + id.Name
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// RateLimit returns middleware that limits requests per identity using a
// token bucket. A zero or negative perSec disables limiting. Returns 429 with
// Retry-After and X-RateLimit-* headers when the bucket is empty.
func RateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	if perSec <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := newIdentityRateLimiter(perSec, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := limiters.get(limiterKey(r))
			reservation := limiter.Reserve()
			delay := time.Duration(0)
			if reservation.OK() {
				delay = reservation.Delay()
			}
			if !reservation.OK() || delay > 0 {
				if reservation.OK() {
					reservation.Cancel()
				}
				metrics.RateLimitRejectionsTotal.Inc()
				retryAfter := int(delay.Seconds()) + 1
				if retryAfter > 60 {
					retryAfter = 60
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(delay).Unix(), 10))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"Too many requests. Please retry later.","code":"RESOURCE_EXHAUSTED"}`))
				return
			}
			tokens := int(limiter.Tokens())
			if tokens < 0 {
				tokens = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
			next.ServeHTTP(w, r)
		})
	}
}
