package middleware

import "log/slog"

// ValidateCORSOrigins warns once at startup when the CORS configuration
// allows any origin.
func ValidateCORSOrigins(origins []string, log *slog.Logger) {
	for _, origin := range origins {
		if origin == "*" || origin == ".*" {
			log.Warn("CORS wildcard detected",
				"origin", origin,
				"recommendation", "Use specific origins for production",
			)
		}
	}
}
