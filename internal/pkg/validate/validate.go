// Package validate provides input validation for API path and body parameters.
package validate

import (
	"regexp"
	"strings"
)

// ClusterIDMaxLen is the maximum allowed length for a cluster id.
const ClusterIDMaxLen = 253

const (
	// TokenMinLen and TokenMaxLen bound executor token length.
	TokenMinLen = 32
	TokenMaxLen = 128
)

// K8s name regex: DNS subdomain (RFC 1123), lowercase alphanumeric, '-' or '.', max 253.
var k8sNameRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$`)

// ClusterID validates a cluster id: lowercase alphanumeric plus hyphen,
// starting alphanumeric, 1 to ClusterIDMaxLen chars.
func ClusterID(id string) bool {
	if id == "" || len(id) > ClusterIDMaxLen {
		return false
	}
	for i, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			continue
		}
		if r == '-' && i > 0 {
			continue
		}
		return false
	}
	return true
}

// ExecutorToken validates an executor token: 32 to 128 chars of [A-Za-z0-9_-].
func ExecutorToken(token string) bool {
	if len(token) < TokenMinLen || len(token) > TokenMaxLen {
		return false
	}
	for _, r := range token {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

// Verb validates a kubectl verb: lowercase alphanumeric and hyphen, 1 to 32 chars.
func Verb(verb string) bool {
	if verb == "" || len(verb) > 32 {
		return false
	}
	for _, r := range verb {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return false
	}
	return true
}

// Namespace validates a namespace: empty (cluster-scoped) or valid DNS subdomain.
func Namespace(ns string) bool {
	if ns == "" {
		return true
	}
	if len(ns) > 253 {
		return false
	}
	return k8sNameRe.MatchString(strings.ToLower(ns))
}
