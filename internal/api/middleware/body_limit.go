package middleware

import (
	"net/http"
	"strings"
)

const (
	// DefaultStandardMaxBodyBytes bounds request bodies on ordinary routes (64KB).
	DefaultStandardMaxBodyBytes = 64 * 1024
	// resultEnvelopeSlackBytes covers the JSON envelope around a capped output.
	resultEnvelopeSlackBytes = 64 * 1024
)

// MaxBodySize returns middleware that limits request body size. Result
// ingestion carries up to the output cap plus envelope slack; everything else
// gets standardMax.
func MaxBodySize(standardMax, outputCap int64) func(http.Handler) http.Handler {
	resultMax := outputCap + resultEnvelopeSlackBytes
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			max := standardMax
			if r.Method == http.MethodPost &&
				strings.TrimSuffix(r.URL.Path, "/") == "/executor/results" {
				max = resultMax
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
