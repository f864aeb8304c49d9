package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// Channel and key layout shared with executors. Coexistence with already
// deployed executors requires these exact shapes.
const (
	commandChannelPrefix = "executor-commands:"
	resultChannelPrefix  = "command:result-channel:"
	resultKeyPrefix      = "command:result:"
	pendingKeyPrefix     = "command:pending:"
)

// awaitPollInterval bounds the lost-wakeup window: the result slot is
// re-checked on this cadence even when no wake message arrives.
const awaitPollInterval = time.Second

var (
	// ErrAwaitTimeout is returned when no result lands before the deadline.
	ErrAwaitTimeout = errors.New("await timed out")
	// ErrNoResult is returned when a result slot does not exist.
	ErrNoResult = errors.New("no result stored")
)

// CommandBus is the only coordination primitive between replicas: command
// fan-out via pub/sub, plus ephemeral result slots with a wake-up channel so
// a dispatcher on any replica can collect a result produced through any other.
type CommandBus struct {
	client  *redis.Client
	breaker *Breaker
}

// NewCommandBus creates a bus over the given Redis client.
func NewCommandBus(client *redis.Client) *CommandBus {
	return &CommandBus{client: client, breaker: NewBreaker()}
}

// CommandChannel returns the fan-out channel name for a cluster.
func CommandChannel(clusterID string) string {
	return commandChannelPrefix + clusterID
}

func resultChannel(commandID string) string {
	return resultChannelPrefix + commandID
}

// instrumentOp wraps a Redis operation with timing metrics
func instrumentOp(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Seconds()

	metrics.RedisOpDurationSeconds.WithLabelValues(operation).Observe(duration)
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.RedisOpErrorsTotal.WithLabelValues(operation).Inc()
	}
	return err
}

// PublishCommand fans a command out to every subscriber of the cluster
// channel. Returns the number of subscribers that received it; zero is not an
// error, the dispatcher still waits out its deadline.
func (b *CommandBus) PublishCommand(ctx context.Context, clusterID string, payload *models.CommandPayload) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal command payload: %w", err)
	}
	var receivers int64
	err = b.breaker.Execute(ctx, func() error {
		return instrumentOp("publish_command", func() error {
			var err error
			receivers, err = b.client.Publish(ctx, CommandChannel(clusterID), data).Result()
			return err
		})
	})
	return receivers, err
}

// Subscribe opens a scoped subscription on the cluster channel. The SUBSCRIBE
// is confirmed before returning, so a caller may announce readiness knowing
// later publications will be delivered. The caller owns the subscription and
// must Close it on every exit path.
func (b *CommandBus) Subscribe(ctx context.Context, clusterID string) (*redis.PubSub, error) {
	sub := b.client.Subscribe(ctx, CommandChannel(clusterID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// NumSubscribers reports how many streams are currently subscribed for the
// cluster, across all replicas. Advisory; racy by nature.
func (b *CommandBus) NumSubscribers(ctx context.Context, clusterID string) (int64, error) {
	channel := CommandChannel(clusterID)
	var counts map[string]int64
	err := instrumentOp("pubsub_numsub", func() error {
		var err error
		counts, err = b.client.PubSubNumSub(ctx, channel).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return counts[channel], nil
}

// MarkPending records that a command id is awaiting a result. The marker
// outlives the dispatcher deadline by the slot TTL so a late result is still
// recognised, stored, and left to expire unread.
func (b *CommandBus) MarkPending(ctx context.Context, commandID string, ttl time.Duration) error {
	return b.breaker.Execute(ctx, func() error {
		return instrumentOp("pending_mark", func() error {
			return b.client.Set(ctx, pendingKeyPrefix+commandID, "1", ttl).Err()
		})
	})
}

// IsPending reports whether a command id was dispatched and may still deliver
// a result.
func (b *CommandBus) IsPending(ctx context.Context, commandID string) (bool, error) {
	var n int64
	err := instrumentOp("pending_check", func() error {
		var err error
		n, err = b.client.Exists(ctx, pendingKeyPrefix+commandID).Result()
		return err
	})
	return n > 0, err
}

// StoreResult writes the result slot and wakes any blocked waiter. The slot is
// written with SETNX semantics: only the first delivery for a command id wins,
// and only the winner publishes the wake-up. Returns false for a duplicate.
func (b *CommandBus) StoreResult(ctx context.Context, result *models.Result, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal result: %w", err)
	}
	var stored bool
	err = b.breaker.Execute(ctx, func() error {
		return instrumentOp("result_store", func() error {
			var err error
			stored, err = b.client.SetNX(ctx, resultKeyPrefix+result.CommandID, data, ttl).Result()
			return err
		})
	})
	if err != nil || !stored {
		return stored, err
	}
	err = instrumentOp("result_wake", func() error {
		return b.client.Publish(ctx, resultChannel(result.CommandID), "1").Err()
	})
	// The slot is written even if the wake-up fails; the waiter's poll tick
	// will find it.
	return true, err
}

// HasResult reports whether a result slot exists for the command id.
func (b *CommandBus) HasResult(ctx context.Context, commandID string) (bool, error) {
	var n int64
	err := instrumentOp("result_check", func() error {
		var err error
		n, err = b.client.Exists(ctx, resultKeyPrefix+commandID).Result()
		return err
	})
	return n > 0, err
}

// LoadResult reads a stored result, or ErrNoResult when the slot is absent.
func (b *CommandBus) LoadResult(ctx context.Context, commandID string) (*models.Result, error) {
	var data []byte
	err := instrumentOp("result_load", func() error {
		var err error
		data, err = b.client.Get(ctx, resultKeyPrefix+commandID).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, err
	}
	var result models.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result %s: %w", commandID, err)
	}
	return &result, nil
}

// AwaitResult blocks until a result lands for the command id or the timeout
// elapses, in which case it returns ErrAwaitTimeout. Safe against lost
// wake-ups: the slot is checked after subscribing, after every wake message,
// and on a steady poll tick.
func (b *CommandBus) AwaitResult(ctx context.Context, commandID string, timeout time.Duration) (*models.Result, error) {
	sub := b.client.Subscribe(ctx, resultChannel(commandID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe for result wake-up: %w", err)
	}

	// The result may have landed between dispatch and subscribe.
	if result, err := b.LoadResult(ctx, commandID); err == nil {
		return result, nil
	} else if !errors.Is(err, ErrNoResult) {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(awaitPollInterval)
	defer poll.Stop()
	wake := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrAwaitTimeout
		case <-wake:
		case <-poll.C:
		}

		result, err := b.LoadResult(ctx, commandID)
		if errors.Is(err, ErrNoResult) {
			// Spurious wake or early poll; keep waiting.
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// BreakerState exposes the bus circuit state for readiness reporting.
func (b *CommandBus) BreakerState() BreakerState {
	return b.breaker.State()
}

// Ping verifies the bus backend is reachable.
func (b *CommandBus) Ping(ctx context.Context) error {
	return instrumentOp("ping", func() error {
		return b.client.Ping(ctx).Err()
	})
}
