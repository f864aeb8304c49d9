package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kubently/kubently/internal/models"
)

func agentConfig(baseURL string) *Config {
	return &Config{
		APIURL:                baseURL,
		ClusterID:             "prod-east",
		Token:                 "executor-token-0123456789abcdef0123456789",
		SecurityMode:          models.SecurityModeReadOnly,
		KubectlPath:           "echo",
		CommandTimeoutSeconds: 5,
		OutputCapBytes:        1024,
		MaxConcurrent:         2,
		HeartbeatSeconds:      3600,
		DrainGraceSeconds:     2,
		SkipPreflight:         true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFabric serves the executor surface: one scripted stream plus channels
// collecting what the agent posts back.
type fakeFabric struct {
	commands []models.CommandPayload
	results  chan models.Result
	caps     chan models.CapabilityRecord

	heartbeat404s int32
}

func newFakeFabric(commands ...models.CommandPayload) *fakeFabric {
	return &fakeFabric{
		commands: commands,
		results:  make(chan models.Result, 8),
		caps:     make(chan models.CapabilityRecord, 8),
	}
}

func (f *fakeFabric) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /executor/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, models.EventConnected, `{"session_id":"s-1","cluster_id":"prod-east"}`)
		for _, cmd := range f.commands {
			data, _ := json.Marshal(cmd)
			writeFrame(w, models.EventCommand, string(data))
		}
		<-r.Context().Done()
	})
	mux.HandleFunc("POST /executor/results", func(w http.ResponseWriter, r *http.Request) {
		var res models.Result
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			t.Errorf("decode result: %v", err)
		}
		f.results <- res
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /executor/capabilities", func(w http.ResponseWriter, r *http.Request) {
		var rec models.CapabilityRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("decode capabilities: %v", err)
		}
		f.caps <- rec
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /executor/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&f.heartbeat404s, -1) >= 0 {
			http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func waitResult(t *testing.T, f *fakeFabric) models.Result {
	t.Helper()
	select {
	case res := <-f.results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a result")
		return models.Result{}
	}
}

func TestAgentExecutesCommand(t *testing.T) {
	fabric := newFakeFabric(models.CommandPayload{
		ID:             "cmd-1",
		Args:           []string{"get", "pods"},
		DeadlineUnixMS: time.Now().Add(time.Minute).UnixMilli(),
	})
	srv := fabric.server(t)

	agent, err := NewAgent(agentConfig(srv.URL), "v-test", discardLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(ctx) }()

	select {
	case rec := <-fabric.caps:
		if rec.SecurityMode != models.SecurityModeReadOnly {
			t.Errorf("Unexpected security mode %q", rec.SecurityMode)
		}
		if rec.ExecutorVersion != "v-test" {
			t.Errorf("Unexpected executor version %q", rec.ExecutorVersion)
		}
		found := false
		for _, v := range rec.AllowedVerbs {
			if v == "get" {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected get in advertised verbs, got %v", rec.AllowedVerbs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the capability report")
	}

	res := waitResult(t, fabric)
	if res.CommandID != "cmd-1" {
		t.Errorf("Unexpected command id %q", res.CommandID)
	}
	if res.Status != models.StatusSuccess {
		t.Errorf("Expected success, got %q (%s)", res.Status, res.Error)
	}
	if res.Output != "get pods\n" {
		t.Errorf("Unexpected output %q", res.Output)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for Run to return")
	}
}

func TestAgentRejectsDisallowedVerb(t *testing.T) {
	fabric := newFakeFabric(models.CommandPayload{
		ID:             "cmd-2",
		Args:           []string{"delete", "pod", "web-1"},
		DeadlineUnixMS: time.Now().Add(time.Minute).UnixMilli(),
	})
	srv := fabric.server(t)

	agent, err := NewAgent(agentConfig(srv.URL), "v-test", discardLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()

	res := waitResult(t, fabric)
	if res.Status != models.StatusFailure {
		t.Errorf("Expected failure, got %q", res.Status)
	}
	if res.Error != "verb not permitted" {
		t.Errorf("Unexpected error %q", res.Error)
	}
	if res.Output != "" {
		t.Errorf("Expected no output for a rejected command, got %q", res.Output)
	}
}

func TestAgentExitsOnAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Authentication failed"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	agent, err := NewAgent(agentConfig(srv.URL), "v-test", discardLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(context.Background()) }()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrAuthRejected) {
			t.Errorf("Expected ErrAuthRejected, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Expected Run to exit on rejected credentials")
	}
}

func TestAgentRereportsAfterHeartbeatMiss(t *testing.T) {
	fabric := newFakeFabric()
	fabric.heartbeat404s = 1
	srv := fabric.server(t)

	cfg := agentConfig(srv.URL)
	cfg.HeartbeatSeconds = 1
	agent, err := NewAgent(cfg, "v-test", discardLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()

	// initial report, then the re-report triggered by the heartbeat 404
	for i := 0; i < 2; i++ {
		select {
		case <-fabric.caps:
		case <-time.After(10 * time.Second):
			t.Fatalf("Timed out waiting for capability report %d", i+1)
		}
	}
}
