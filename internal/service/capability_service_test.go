package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/repository"
)

func setupCaps(t *testing.T, minVersion string) (CapabilityService, *repository.Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := repository.NewRepository(client)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	caps, err := NewCapabilityService(repo.Capability, time.Hour, minVersion, log)
	require.NoError(t, err)
	return caps, repo, mr
}

func TestCapabilityReportAndGet(t *testing.T) {
	caps, _, _ := setupCaps(t, "")
	ctx := context.Background()

	err := caps.Report(ctx, "prod-east", &models.CapabilityRecord{
		SecurityMode:    models.SecurityModeExtendedReadOnly,
		AllowedVerbs:    []string{"get", "describe", "logs", "events", "top", "api-resources"},
		Features:        map[string]bool{"exec": false},
		ExecutorVersion: "1.4.2",
	})
	require.NoError(t, err)

	rec, err := caps.Get(ctx, "prod-east")
	require.NoError(t, err)
	assert.Equal(t, "prod-east", rec.ClusterID, "cluster id should be stamped")
	assert.False(t, rec.Timestamp.IsZero(), "timestamp should be stamped")
	assert.True(t, rec.AllowsVerb("api-resources"), "advertised verb should be allowed")
	assert.False(t, rec.AllowsVerb("delete"), "unadvertised verb should be rejected")
}

func TestCapabilityReportValidates(t *testing.T) {
	caps, _, _ := setupCaps(t, "")
	ctx := context.Background()

	cases := []*models.CapabilityRecord{
		{SecurityMode: "fullAccess", AllowedVerbs: []string{"get"}},
		{SecurityMode: models.SecurityModeReadOnly},
		{SecurityMode: models.SecurityModeReadOnly, AllowedVerbs: make([]string, models.CapabilityListMax+1)},
	}
	for i, rec := range cases {
		err := caps.Report(ctx, "prod-east", rec)
		assert.ErrorIs(t, err, ErrInvalidArgument, "case %d", i)
	}
}

func TestCapabilityHeartbeat(t *testing.T) {
	caps, _, mr := setupCaps(t, "")
	ctx := context.Background()

	// heartbeat without a record tells the executor to re-report
	err := caps.Heartbeat(ctx, "prod-east")
	require.ErrorIs(t, err, ErrNotFound)

	err = caps.Report(ctx, "prod-east", &models.CapabilityRecord{
		SecurityMode: models.SecurityModeReadOnly,
		AllowedVerbs: []string{"get"},
	})
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	require.NoError(t, caps.Heartbeat(ctx, "prod-east"))
	mr.FastForward(50 * time.Minute)

	// record survives because the heartbeat extended it
	assert.Greater(t, mr.TTL("cluster:prod-east:capabilities"), time.Duration(0),
		"heartbeat should leave a fresh TTL")
}

func TestCapabilityGetCaches(t *testing.T) {
	caps, _, mr := setupCaps(t, "")
	ctx := context.Background()

	err := caps.Report(ctx, "prod-east", &models.CapabilityRecord{
		SecurityMode: models.SecurityModeReadOnly,
		AllowedVerbs: []string{"get"},
	})
	require.NoError(t, err)
	_, err = caps.Get(ctx, "prod-east")
	require.NoError(t, err)

	// drop the backing key; the micro-cache still answers
	mr.Del("cluster:prod-east:capabilities")
	_, err = caps.Get(ctx, "prod-east")
	assert.NoError(t, err, "cached record should still answer")
}

func TestCapabilityDeleteClearsCache(t *testing.T) {
	caps, _, _ := setupCaps(t, "")
	ctx := context.Background()

	err := caps.Report(ctx, "prod-east", &models.CapabilityRecord{
		SecurityMode: models.SecurityModeReadOnly,
		AllowedVerbs: []string{"get"},
	})
	require.NoError(t, err)
	_, err = caps.Get(ctx, "prod-east")
	require.NoError(t, err)

	require.NoError(t, caps.Delete(ctx, "prod-east"))
	_, err = caps.Get(ctx, "prod-east")
	assert.ErrorIs(t, err, ErrNotFound, "record should be gone after delete")
}

func TestCapabilityVersionFloorConfig(t *testing.T) {
	// a parseable floor is accepted and old executors still get stored
	caps, _, _ := setupCaps(t, "1.2.0")
	err := caps.Report(context.Background(), "prod-east", &models.CapabilityRecord{
		SecurityMode:    models.SecurityModeReadOnly,
		AllowedVerbs:    []string{"get"},
		ExecutorVersion: "1.0.0",
	})
	assert.NoError(t, err, "a report below the floor stores with a warning")

	// an unparseable floor is a configuration error
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	repo := repository.NewRepository(client)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err = NewCapabilityService(repo.Capability, time.Hour, "not-a-version", log)
	assert.Error(t, err, "invalid version floor should be rejected")
}
