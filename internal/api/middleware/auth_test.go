package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/repository"
)

func TestAPIKeyAuth(t *testing.T) {
	keys, err := auth.ParseKeySet("agent:key-aaaa,admin:key-bbbb", []string{"admin"})
	if err != nil {
		t.Fatalf("ParseKeySet: %v", err)
	}
	rec := audit.NewRecorder(nil, discardLogger())

	var identity *auth.Identity
	h := APIKeyAuth(keys, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity = auth.IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/debug/execute", nil)
	req.Header.Set(APIKeyHeader, "key-aaaa")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if identity == nil || identity.Name != "agent" || identity.Admin {
		t.Errorf("Unexpected identity %+v", identity)
	}

	for _, key := range []string{"", "wrong-key"} {
		req := httptest.NewRequest(http.MethodPost, "/debug/execute", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 for key %q, got %d", key, rr.Code)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	rec := audit.NewRecorder(nil, discardLogger())
	h := RequireAdmin(rec)(okHandler())

	// no identity at all
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/executors/c1/token", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/executors/c1/token", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Name: "agent"}))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/executors/c1/token", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Name: "admin", Admin: true}))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin, got %d", rr.Code)
	}
}

func setupExecutorAuth(t *testing.T) (*repository.Repository, http.Handler, *string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := repository.NewRepository(client)
	rec := audit.NewRecorder(repo.Audit, discardLogger())

	var clusterSeen string
	h := ExecutorAuth(repo.Token, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clusterSeen = auth.ExecutorClusterFromContext(r.Context())
	}))
	return repo, h, &clusterSeen
}

func TestExecutorAuth(t *testing.T) {
	repo, h, clusterSeen := setupExecutorAuth(t)
	token := "executor-token-0123456789abcdef-0123456789"
	if err := repo.Token.SaveToken(context.Background(), "prod-east", token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(ExecutorClusterHeader, "prod-east")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if *clusterSeen != "prod-east" {
		t.Errorf("Expected cluster in context, got %q", *clusterSeen)
	}

	events, err := repo.Audit.RecentAudit(context.Background(), 1)
	if err != nil || len(events) != 1 {
		t.Fatalf("RecentAudit: %v (%d events)", err, len(events))
	}
	if events[0].Action != models.AuditActionExecutorAuth || events[0].Outcome != models.AuditOutcomeOK {
		t.Errorf("Unexpected audit event %+v", events[0])
	}
}

func TestExecutorAuthNeverLeaksFailureCause(t *testing.T) {
	repo, h, _ := setupExecutorAuth(t)
	token := "executor-token-0123456789abcdef-0123456789"
	if err := repo.Token.SaveToken(context.Background(), "prod-east", token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	cases := []struct {
		name    string
		cluster string
		bearer  string
	}{
		{"wrong token", "prod-east", "Bearer not-the-right-token-aaaaaaaaaaaaaaaa"},
		{"unknown cluster", "never-registered", "Bearer " + token},
		{"missing cluster header", "", "Bearer " + token},
		{"missing authorization", "prod-east", ""},
		{"not bearer", "prod-east", "Basic dXNlcjpwYXNz"},
	}

	bodies := make(map[string]bool)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
			if tc.cluster != "" {
				req.Header.Set(ExecutorClusterHeader, tc.cluster)
			}
			if tc.bearer != "" {
				req.Header.Set("Authorization", tc.bearer)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rr.Code)
			}
			bodies[rr.Body.String()] = true
		})
	}
	// identical body for every failure mode
	if len(bodies) != 1 {
		t.Errorf("Expected one failure body shape, got %d", len(bodies))
	}
}
