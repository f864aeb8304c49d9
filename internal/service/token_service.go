package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/redact"
	"github.com/kubently/kubently/internal/pkg/validate"
	"github.com/kubently/kubently/internal/repository"
)

// TokenService manages executor credentials. One token per cluster; minting
// replaces atomically and invalidates the capability record so a stale
// allow-list from the previous credential holder cannot gate dispatches.
type TokenService interface {
	// Mint generates (or accepts) a token for the cluster and stores it.
	// Returns the plaintext token exactly once.
	Mint(ctx context.Context, clusterID, provided string) (string, error)
	// Revoke deletes the token and the capability record. ErrNotFound when
	// the cluster was never registered.
	Revoke(ctx context.Context, clusterID string) error
}

type tokenService struct {
	repo     repository.TokenRepository
	caps     CapabilityService
	recorder *audit.Recorder
	log      *slog.Logger
}

// NewTokenService creates a token service.
func NewTokenService(repo repository.TokenRepository, caps CapabilityService, recorder *audit.Recorder, log *slog.Logger) TokenService {
	return &tokenService{repo: repo, caps: caps, recorder: recorder, log: log}
}

func (s *tokenService) Mint(ctx context.Context, clusterID, provided string) (string, error) {
	identity := identityName(ctx)

	if !validate.ClusterID(clusterID) {
		s.record(ctx, identity, models.AuditActionTokenMint, clusterID, models.AuditOutcomeDenied)
		return "", fmt.Errorf("%w: invalid cluster id", ErrInvalidArgument)
	}

	token := provided
	if token == "" {
		generated, err := auth.GenerateToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		token = generated
	} else if !validate.ExecutorToken(token) {
		s.record(ctx, identity, models.AuditActionTokenMint, clusterID, models.AuditOutcomeDenied)
		return "", fmt.Errorf("%w: token must be 32-128 chars of [A-Za-z0-9_-]", ErrInvalidArgument)
	}

	if err := s.repo.SaveToken(ctx, clusterID, token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// A prior capability record belongs to the previous credential.
	if err := s.caps.Delete(ctx, clusterID); err != nil {
		s.log.Warn("Failed to drop capability record on mint", "cluster_id", clusterID, "error", err)
	}

	s.record(ctx, identity, models.AuditActionTokenMint, clusterID, models.AuditOutcomeOK)
	s.log.Info("Executor token minted",
		"cluster_id", clusterID,
		"identity", identity,
		"token", redact.Token(token))
	return token, nil
}

func (s *tokenService) Revoke(ctx context.Context, clusterID string) error {
	identity := identityName(ctx)

	existing, err := s.repo.GetToken(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if existing == "" {
		s.record(ctx, identity, models.AuditActionTokenRevoke, clusterID, models.AuditOutcomeDenied)
		return ErrNotFound
	}

	if err := s.repo.DeleteToken(ctx, clusterID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.caps.Delete(ctx, clusterID); err != nil {
		s.log.Warn("Failed to drop capability record on revoke", "cluster_id", clusterID, "error", err)
	}

	s.record(ctx, identity, models.AuditActionTokenRevoke, clusterID, models.AuditOutcomeOK)
	s.log.Info("Executor token revoked", "cluster_id", clusterID, "identity", identity)
	return nil
}

// identityName returns the authenticated caller name, or "" for unattributed
// paths.
func identityName(ctx context.Context) string {
	if id := auth.IdentityFromContext(ctx); id != nil {
		return id.Name
	}
	return ""
}

func (s *tokenService) record(ctx context.Context, identity, action, clusterID, outcome string) {
	s.recorder.Record(ctx, &models.AuditEvent{
		Identity:  identity,
		Action:    action,
		ClusterID: clusterID,
		Outcome:   outcome,
	})
}
