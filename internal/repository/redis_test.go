package repository

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/models"
)

func setupTestRepo(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRepository(client), mr
}

func TestTokenRoundTrip(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	token, err := repo.GetToken(ctx, "prod-east")
	if err != nil {
		t.Fatalf("GetToken on empty store: %v", err)
	}
	if token != "" {
		t.Errorf("Expected empty token for unregistered cluster, got %q", token)
	}

	if err := repo.SaveToken(ctx, "prod-east", "tok-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	token, err = repo.GetToken(ctx, "prod-east")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if token != "tok-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Errorf("Unexpected token %q", token)
	}

	// rotation replaces in place
	if err := repo.SaveToken(ctx, "prod-east", "tok-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"); err != nil {
		t.Fatalf("SaveToken rotate: %v", err)
	}
	token, _ = repo.GetToken(ctx, "prod-east")
	if token != "tok-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("Expected rotated token, got %q", token)
	}

	if err := repo.DeleteToken(ctx, "prod-east"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	token, _ = repo.GetToken(ctx, "prod-east")
	if token != "" {
		t.Errorf("Expected empty token after delete, got %q", token)
	}
}

func TestRegisteredClusters(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"prod-east", "prod-west", "staging"} {
		if err := repo.SaveToken(ctx, id, "tok-"+id); err != nil {
			t.Fatalf("SaveToken %s: %v", id, err)
		}
	}

	ids, err := repo.RegisteredClusters(ctx)
	if err != nil {
		t.Fatalf("RegisteredClusters: %v", err)
	}
	sort.Strings(ids)
	want := []string{"prod-east", "prod-west", "staging"}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d clusters, got %d: %v", len(want), len(ids), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Cluster %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestCapabilityLifecycle(t *testing.T) {
	repo, mr := setupTestRepo(t)
	ctx := context.Background()

	rec := &models.CapabilityRecord{
		ClusterID:    "prod-east",
		SecurityMode: models.SecurityModeReadOnly,
		AllowedVerbs: []string{"get", "describe", "logs"},
		Timestamp:    time.Now().UTC(),
	}
	if err := repo.SaveCapabilities(ctx, rec, time.Hour); err != nil {
		t.Fatalf("SaveCapabilities: %v", err)
	}

	got, err := repo.GetCapabilities(ctx, "prod-east")
	if err != nil {
		t.Fatalf("GetCapabilities: %v", err)
	}
	if got.SecurityMode != models.SecurityModeReadOnly {
		t.Errorf("Expected security mode readOnly, got %s", got.SecurityMode)
	}
	if len(got.AllowedVerbs) != 3 {
		t.Errorf("Expected 3 verbs, got %v", got.AllowedVerbs)
	}

	// heartbeat extends the TTL
	mr.FastForward(50 * time.Minute)
	extended, err := repo.TouchCapabilities(ctx, "prod-east", time.Hour)
	if err != nil {
		t.Fatalf("TouchCapabilities: %v", err)
	}
	if !extended {
		t.Fatal("Expected touch to extend an existing record")
	}
	mr.FastForward(50 * time.Minute)
	if _, err := repo.GetCapabilities(ctx, "prod-east"); err != nil {
		t.Fatalf("Record should survive after touch: %v", err)
	}

	// without heartbeats the record expires
	mr.FastForward(2 * time.Hour)
	if _, err := repo.GetCapabilities(ctx, "prod-east"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after expiry, got %v", err)
	}
	extended, err = repo.TouchCapabilities(ctx, "prod-east", time.Hour)
	if err != nil {
		t.Fatalf("TouchCapabilities on expired record: %v", err)
	}
	if extended {
		t.Error("Expected touch on missing record to report false")
	}
}

func TestCapabilityDelete(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	rec := &models.CapabilityRecord{
		ClusterID:    "prod-east",
		SecurityMode: models.SecurityModeReadWrite,
		AllowedVerbs: []string{"get", "apply"},
		Timestamp:    time.Now().UTC(),
	}
	if err := repo.SaveCapabilities(ctx, rec, time.Hour); err != nil {
		t.Fatalf("SaveCapabilities: %v", err)
	}
	if err := repo.DeleteCapabilities(ctx, "prod-east"); err != nil {
		t.Fatalf("DeleteCapabilities: %v", err)
	}
	if _, err := repo.GetCapabilities(ctx, "prod-east"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestAuditAppendAndRecent(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, action := range []string{models.AuditActionTokenMint, models.AuditActionAPIKeyAuth, models.AuditActionExecutorAuth} {
		ev := &models.AuditEvent{
			TS:        base.Add(time.Duration(i) * time.Second),
			Identity:  "admin",
			Action:    action,
			ClusterID: "prod-east",
			Outcome:   models.AuditOutcomeOK,
		}
		if err := repo.AppendAudit(ctx, ev); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	events, err := repo.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	// newest first
	if events[0].Action != models.AuditActionExecutorAuth {
		t.Errorf("Expected newest event first, got %s", events[0].Action)
	}
	if events[1].Action != models.AuditActionAPIKeyAuth {
		t.Errorf("Expected second newest event, got %s", events[1].Action)
	}
}

func TestAuditSkipsForeignEntries(t *testing.T) {
	repo, mr := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.AppendAudit(ctx, &models.AuditEvent{
		TS:      time.Now().UTC(),
		Action:  models.AuditActionAPIKeyAuth,
		Outcome: models.AuditOutcomeDenied,
	}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if _, err := mr.Lpush("auth:audit", "not-json"); err != nil {
		t.Fatalf("Seeding foreign entry: %v", err)
	}

	events, err := repo.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 parseable event, got %d", len(events))
	}
}

func TestActivityHint(t *testing.T) {
	repo, mr := setupTestRepo(t)
	ctx := context.Background()

	active, err := repo.IsActive(ctx, "prod-east")
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if active {
		t.Error("Expected inactive before mark")
	}

	if err := repo.MarkActive(ctx, "prod-east", 60*time.Second); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	got, err := mr.Get("cluster:active:prod-east")
	if err != nil {
		t.Fatalf("Reading hint key: %v", err)
	}
	if got != "1" {
		t.Errorf("Expected hint value \"1\", got %q", got)
	}

	active, _ = repo.IsActive(ctx, "prod-east")
	if !active {
		t.Error("Expected active after mark")
	}

	ids, err := repo.ActiveClusters(ctx)
	if err != nil {
		t.Fatalf("ActiveClusters: %v", err)
	}
	if len(ids) != 1 || ids[0] != "prod-east" {
		t.Errorf("Expected [prod-east], got %v", ids)
	}

	mr.FastForward(61 * time.Second)
	active, _ = repo.IsActive(ctx, "prod-east")
	if active {
		t.Error("Expected hint to expire")
	}
}
