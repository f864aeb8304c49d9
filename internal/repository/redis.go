package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/models"
)

// Key layout shared with executors. Coexistence with already deployed
// executors requires these exact shapes.
const (
	tokenKeyPrefix  = "executor:token:"
	activeKeyPrefix = "cluster:active:"
	auditKey        = "auth:audit"
	auditMaxEntries = 10000
)

func capabilityKey(clusterID string) string {
	return fmt.Sprintf("cluster:%s:capabilities", clusterID)
}

// RedisRepository implements every store on a single Redis client.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a Redis-backed repository.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

// NewRepository bundles a Redis-backed implementation of every store.
func NewRepository(client *redis.Client) *Repository {
	r := NewRedisRepository(client)
	return &Repository{Token: r, Capability: r, Audit: r, Activity: r}
}

// TokenRepository implementation

func (r *RedisRepository) SaveToken(ctx context.Context, clusterID, token string) error {
	return doWithRetry(ctx, defaultRetryAttempts, func() error {
		return instrumentOp("token_save", func() error {
			return r.client.Set(ctx, tokenKeyPrefix+clusterID, token, 0).Err()
		})
	})
}

func (r *RedisRepository) GetToken(ctx context.Context, clusterID string) (string, error) {
	var token string
	err := instrumentOp("token_get", func() error {
		var err error
		token, err = r.client.Get(ctx, tokenKeyPrefix+clusterID).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (r *RedisRepository) DeleteToken(ctx context.Context, clusterID string) error {
	return doWithRetry(ctx, defaultRetryAttempts, func() error {
		return instrumentOp("token_delete", func() error {
			return r.client.Del(ctx, tokenKeyPrefix+clusterID).Err()
		})
	})
}

func (r *RedisRepository) RegisteredClusters(ctx context.Context) ([]string, error) {
	return r.scanKeys(ctx, "token_scan", tokenKeyPrefix)
}

// CapabilityRepository implementation

func (r *RedisRepository) SaveCapabilities(ctx context.Context, rec *models.CapabilityRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	return doWithRetry(ctx, defaultRetryAttempts, func() error {
		return instrumentOp("capability_save", func() error {
			return r.client.Set(ctx, capabilityKey(rec.ClusterID), data, ttl).Err()
		})
	})
}

func (r *RedisRepository) GetCapabilities(ctx context.Context, clusterID string) (*models.CapabilityRecord, error) {
	var data []byte
	err := instrumentOp("capability_get", func() error {
		var err error
		data, err = r.client.Get(ctx, capabilityKey(clusterID)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.CapabilityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities for %s: %w", clusterID, err)
	}
	return &rec, nil
}

func (r *RedisRepository) TouchCapabilities(ctx context.Context, clusterID string, ttl time.Duration) (bool, error) {
	return doWithRetryValue(ctx, defaultRetryAttempts, func() (bool, error) {
		var extended bool
		err := instrumentOp("capability_touch", func() error {
			var err error
			extended, err = r.client.Expire(ctx, capabilityKey(clusterID), ttl).Result()
			return err
		})
		return extended, err
	})
}

func (r *RedisRepository) DeleteCapabilities(ctx context.Context, clusterID string) error {
	return doWithRetry(ctx, defaultRetryAttempts, func() error {
		return instrumentOp("capability_delete", func() error {
			return r.client.Del(ctx, capabilityKey(clusterID)).Err()
		})
	})
}

// AuditRepository implementation

func (r *RedisRepository) AppendAudit(ctx context.Context, event *models.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return doWithRetry(ctx, defaultRetryAttempts, func() error {
		return instrumentOp("audit_append", func() error {
			_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LPush(ctx, auditKey, data)
				pipe.LTrim(ctx, auditKey, 0, auditMaxEntries-1)
				return nil
			})
			return err
		})
	})
}

func (r *RedisRepository) RecentAudit(ctx context.Context, limit int64) ([]*models.AuditEvent, error) {
	if limit < 1 {
		limit = 1
	}
	var raw []string
	err := instrumentOp("audit_range", func() error {
		var err error
		raw, err = r.client.LRange(ctx, auditKey, 0, limit-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	events := make([]*models.AuditEvent, 0, len(raw))
	for _, line := range raw {
		var ev models.AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// tolerate foreign entries on the shared list
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// ActivityRepository implementation

func (r *RedisRepository) MarkActive(ctx context.Context, clusterID string, ttl time.Duration) error {
	return instrumentOp("active_mark", func() error {
		return r.client.Set(ctx, activeKeyPrefix+clusterID, "1", ttl).Err()
	})
}

func (r *RedisRepository) IsActive(ctx context.Context, clusterID string) (bool, error) {
	var n int64
	err := instrumentOp("active_check", func() error {
		var err error
		n, err = r.client.Exists(ctx, activeKeyPrefix+clusterID).Result()
		return err
	})
	return n > 0, err
}

func (r *RedisRepository) ActiveClusters(ctx context.Context) ([]string, error) {
	return r.scanKeys(ctx, "active_scan", activeKeyPrefix)
}

func (r *RedisRepository) scanKeys(ctx context.Context, op, prefix string) ([]string, error) {
	var ids []string
	err := instrumentOp(op, func() error {
		iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
