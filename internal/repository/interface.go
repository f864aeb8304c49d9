package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kubently/kubently/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TokenRepository defines executor credential storage. One token per cluster;
// SaveToken replaces atomically.
type TokenRepository interface {
	SaveToken(ctx context.Context, clusterID, token string) error
	// GetToken returns the stored token, or "" when the cluster is not
	// registered. Callers on the auth path compare against "" through the
	// constant-time helper so missing and wrong tokens cost the same.
	GetToken(ctx context.Context, clusterID string) (string, error)
	DeleteToken(ctx context.Context, clusterID string) error
	RegisteredClusters(ctx context.Context) ([]string, error)
}

// CapabilityRepository defines capability record storage.
type CapabilityRepository interface {
	SaveCapabilities(ctx context.Context, rec *models.CapabilityRecord, ttl time.Duration) error
	GetCapabilities(ctx context.Context, clusterID string) (*models.CapabilityRecord, error)
	// TouchCapabilities extends the record TTL. Returns false when no record
	// exists, which tells the executor to re-report.
	TouchCapabilities(ctx context.Context, clusterID string, ttl time.Duration) (bool, error)
	DeleteCapabilities(ctx context.Context, clusterID string) error
}

// AuditRepository defines append-only auth audit storage.
type AuditRepository interface {
	AppendAudit(ctx context.Context, event *models.AuditEvent) error
	// RecentAudit returns up to limit events, newest first.
	RecentAudit(ctx context.Context, limit int64) ([]*models.AuditEvent, error)
}

// ActivityRepository defines the advisory per-cluster activity hint.
type ActivityRepository interface {
	MarkActive(ctx context.Context, clusterID string, ttl time.Duration) error
	IsActive(ctx context.Context, clusterID string) (bool, error)
	ActiveClusters(ctx context.Context) ([]string, error)
}

// Repository aggregates all stores.
type Repository struct {
	Token      TokenRepository
	Capability CapabilityRepository
	Audit      AuditRepository
	Activity   ActivityRepository
}
