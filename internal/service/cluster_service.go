package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/repository"
)

// ClusterService assembles fleet status: every registered cluster with its
// activity and capability hints.
type ClusterService interface {
	List(ctx context.Context) ([]*models.ClusterStatus, error)
}

type clusterService struct {
	repo *repository.Repository
	caps CapabilityService
	log  *slog.Logger
}

// NewClusterService creates a cluster listing service.
func NewClusterService(repo *repository.Repository, caps CapabilityService, log *slog.Logger) ClusterService {
	return &clusterService{repo: repo, caps: caps, log: log}
}

func (s *clusterService) List(ctx context.Context) ([]*models.ClusterStatus, error) {
	ids, err := s.repo.Token.RegisteredClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sort.Strings(ids)

	statuses := make([]*models.ClusterStatus, 0, len(ids))
	for _, id := range ids {
		status := &models.ClusterStatus{ClusterID: id}

		active, err := s.repo.Activity.IsActive(ctx, id)
		if err != nil {
			s.log.Warn("Activity check failed", "cluster_id", id, "error", err)
		}
		status.Active = active

		rec, err := s.caps.Get(ctx, id)
		switch {
		case err == nil:
			status.HasCapabilities = true
			status.SecurityMode = rec.SecurityMode
		case errors.Is(err, ErrNotFound):
			// no record yet
		default:
			s.log.Warn("Capability check failed", "cluster_id", id, "error", err)
		}

		statuses = append(statuses, status)
	}
	return statuses, nil
}
