package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/repository"
)

// capabilityCacheSize bounds the in-process micro-cache. One entry per
// cluster; 512 covers any realistic fleet.
const capabilityCacheSize = 512

// capabilityCacheTTL keeps dispatch-path reads off Redis without letting a
// revoked or re-reported record linger for long on other replicas.
const capabilityCacheTTL = 2 * time.Second

// CapabilityService manages advisory per-cluster capability records.
type CapabilityService interface {
	// Report validates and stores a capability record, stamping cluster id
	// and timestamp.
	Report(ctx context.Context, clusterID string, rec *models.CapabilityRecord) error
	// Heartbeat extends the record TTL; ErrNotFound when no record exists,
	// which tells the executor to re-report.
	Heartbeat(ctx context.Context, clusterID string) error
	// Get returns the record, or ErrNotFound.
	Get(ctx context.Context, clusterID string) (*models.CapabilityRecord, error)
	// Delete removes the record, used on token mint and revocation.
	Delete(ctx context.Context, clusterID string) error
}

type capabilityService struct {
	repo       repository.CapabilityRepository
	cache      *expirable.LRU[string, *models.CapabilityRecord]
	ttl        time.Duration
	minVersion *semver.Version
	log        *slog.Logger
}

// NewCapabilityService creates a capability registry. minVersion may be empty
// to disable the executor version floor.
func NewCapabilityService(repo repository.CapabilityRepository, ttl time.Duration, minVersion string, log *slog.Logger) (CapabilityService, error) {
	s := &capabilityService{
		repo:  repo,
		cache: expirable.NewLRU[string, *models.CapabilityRecord](capabilityCacheSize, nil, capabilityCacheTTL),
		ttl:   ttl,
		log:   log,
	}
	if minVersion != "" {
		floor, err := semver.NewVersion(minVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid min executor version %q: %w", minVersion, err)
		}
		s.minVersion = floor
	}
	return s, nil
}

func (s *capabilityService) Report(ctx context.Context, clusterID string, rec *models.CapabilityRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	rec.ClusterID = clusterID
	rec.Timestamp = time.Now().UTC()

	s.checkVersionFloor(clusterID, rec.ExecutorVersion)

	if err := s.repo.SaveCapabilities(ctx, rec, s.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.cache.Remove(clusterID)
	s.log.Info("Capability record stored",
		"cluster_id", clusterID,
		"security_mode", rec.SecurityMode,
		"verbs", len(rec.AllowedVerbs),
		"executor_version", rec.ExecutorVersion)
	return nil
}

func (s *capabilityService) Heartbeat(ctx context.Context, clusterID string) error {
	extended, err := s.repo.TouchCapabilities(ctx, clusterID, s.ttl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !extended {
		return ErrNotFound
	}
	return nil
}

func (s *capabilityService) Get(ctx context.Context, clusterID string) (*models.CapabilityRecord, error) {
	if rec, ok := s.cache.Get(clusterID); ok {
		metrics.CapabilityCacheHitsTotal.Inc()
		return rec, nil
	}
	metrics.CapabilityCacheMissesTotal.Inc()

	rec, err := s.repo.GetCapabilities(ctx, clusterID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.cache.Add(clusterID, rec)
	return rec, nil
}

func (s *capabilityService) Delete(ctx context.Context, clusterID string) error {
	if err := s.repo.DeleteCapabilities(ctx, clusterID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.cache.Remove(clusterID)
	return nil
}

// checkVersionFloor logs a warning for executors below the supported floor.
// The record is stored either way; the floor is advisory.
func (s *capabilityService) checkVersionFloor(clusterID, version string) {
	if s.minVersion == nil || version == "" {
		return
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		s.log.Debug("Unparseable executor version", "cluster_id", clusterID, "executor_version", version)
		return
	}
	if v.LessThan(s.minVersion) {
		s.log.Warn("Executor below supported version floor",
			"cluster_id", clusterID,
			"executor_version", version,
			"min_version", s.minVersion.String())
	}
}
