package models

import "time"

// Audit actions recorded on the auth:audit list.
const (
	AuditActionAPIKeyAuth   = "api_key_auth"
	AuditActionExecutorAuth = "executor_auth"
	AuditActionTokenMint    = "token_mint"
	AuditActionTokenRevoke  = "token_revoke"
)

// Audit outcomes.
const (
	AuditOutcomeOK     = "ok"
	AuditOutcomeDenied = "denied"
)

// AuditEvent is one append-only entry on the auth:audit list.
type AuditEvent struct {
	TS        time.Time `json:"ts"`
	Identity  string    `json:"identity,omitempty"`
	Action    string    `json:"action"`
	ClusterID string    `json:"cluster_id,omitempty"`
	Outcome   string    `json:"outcome"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}
