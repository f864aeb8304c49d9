package models

import "time"

// ExecutorConnection describes one live executor stream held by this replica.
type ExecutorConnection struct {
	ClusterID  string    `json:"cluster_id"`
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	Since      time.Time `json:"since"`
}

// ClusterStatus is one row of GET /clusters: a registered cluster plus its
// advisory activity and capability hints.
type ClusterStatus struct {
	ClusterID       string `json:"cluster_id"`
	Active          bool   `json:"active"`
	HasCapabilities bool   `json:"has_capabilities"`
	SecurityMode    string `json:"security_mode,omitempty"`
}
