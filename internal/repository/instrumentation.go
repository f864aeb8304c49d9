package repository

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/pkg/metrics"
)

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
