package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/repository"
)

// ActivitySampler periodically samples fleet gauges: how many clusters hold
// tokens and how many carry a fresh activity hint.
type ActivitySampler struct {
	repo     *repository.Repository
	log      *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewActivitySampler creates a sampler. interval <= 0 defaults to 30 s.
func NewActivitySampler(repo *repository.Repository, log *slog.Logger, interval time.Duration) *ActivitySampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ActivitySampler{
		repo:     repo,
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the sampler background goroutine.
func (s *ActivitySampler) Start(ctx context.Context) {
	s.log.Info("Starting activity sampler", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run immediately on start
		s.sample(ctx)

		for {
			select {
			case <-ticker.C:
				s.sample(ctx)
			case <-s.stopCh:
				s.log.Info("Activity sampler stopped")
				return
			case <-ctx.Done():
				s.log.Info("Activity sampler context cancelled")
				return
			}
		}
	}()
}

// Stop stops the sampler.
func (s *ActivitySampler) Stop() {
	close(s.stopCh)
}

func (s *ActivitySampler) sample(ctx context.Context) {
	registered, err := s.repo.Token.RegisteredClusters(ctx)
	if err != nil {
		s.log.Warn("Fleet sample failed", "error", err)
		return
	}
	metrics.ClustersRegistered.Set(float64(len(registered)))

	active, err := s.repo.Activity.ActiveClusters(ctx)
	if err != nil {
		s.log.Warn("Activity sample failed", "error", err)
		return
	}
	metrics.ClustersActive.Set(float64(len(active)))
}
