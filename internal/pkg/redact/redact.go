// Package redact provides helpers to avoid exposing credential values in logs or audit events.
package redact

const redactedValue = "***REDACTED***"

// Token masks a credential, keeping only a short prefix so operators can
// correlate rotations without the value ever reaching logs or audit payloads.
func Token(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return redactedValue
	}
	return token[:4] + redactedValue
}

// Header masks the credential part of an Authorization header value, keeping the scheme.
func Header(value string) string {
	if value == "" {
		return ""
	}
	const bearer = "Bearer "
	if len(value) > len(bearer) && value[:len(bearer)] == bearer {
		return bearer + Token(value[len(bearer):])
	}
	return redactedValue
}
