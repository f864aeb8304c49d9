package models

import (
	"fmt"
	"time"
)

// Executor security modes.
const (
	SecurityModeReadOnly         = "readOnly"
	SecurityModeExtendedReadOnly = "extendedReadOnly"
	SecurityModeReadWrite        = "readWrite"
)

// CapabilityListMax bounds allowed_verbs, resource_restrictions and features.
const CapabilityListMax = 200

// CapabilityRecord is the advisory per-cluster policy advertised by an
// executor. Stored as JSON under cluster:{cluster_id}:capabilities with a TTL
// refreshed by heartbeat; deleted on token revocation.
type CapabilityRecord struct {
	ClusterID            string          `json:"cluster_id"`
	SecurityMode         string          `json:"security_mode"`
	AllowedVerbs         []string        `json:"allowed_verbs"`
	ResourceRestrictions []string        `json:"resource_restrictions,omitempty"`
	Features             map[string]bool `json:"features,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
	ExecutorVersion      string          `json:"executor_version,omitempty"`
	ServerVersion        string          `json:"server_version,omitempty"`
}

// AllowsVerb reports whether verb is in the advertised allow-list.
func (c *CapabilityRecord) AllowsVerb(verb string) bool {
	for _, v := range c.AllowedVerbs {
		if v == verb {
			return true
		}
	}
	return false
}

// Validate checks the enum and the list caps. Cluster id and timestamp are
// filled in by the registry, not the caller.
func (c *CapabilityRecord) Validate() error {
	switch c.SecurityMode {
	case SecurityModeReadOnly, SecurityModeExtendedReadOnly, SecurityModeReadWrite:
	default:
		return fmt.Errorf("unknown security_mode %q", c.SecurityMode)
	}
	if len(c.AllowedVerbs) == 0 {
		return fmt.Errorf("allowed_verbs must not be empty")
	}
	if len(c.AllowedVerbs) > CapabilityListMax {
		return fmt.Errorf("allowed_verbs exceeds %d entries", CapabilityListMax)
	}
	if len(c.ResourceRestrictions) > CapabilityListMax {
		return fmt.Errorf("resource_restrictions exceeds %d entries", CapabilityListMax)
	}
	if len(c.Features) > CapabilityListMax {
		return fmt.Errorf("features exceeds %d entries", CapabilityListMax)
	}
	return nil
}
