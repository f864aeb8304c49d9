package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kubently/kubently/internal/models"
)

func testClientConfig(baseURL string) *Config {
	return &Config{
		APIURL:    baseURL,
		ClusterID: "prod-east",
		Token:     "executor-token-0123456789abcdef0123456789",
	}
}

func writeFrame(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestOpenStreamSendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/executor/stream" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer executor-token-0123456789abcdef0123456789" {
			t.Errorf("Unexpected Authorization %q", got)
		}
		if got := r.Header.Get("X-Cluster-ID"); got != "prod-east" {
			t.Errorf("Unexpected X-Cluster-ID %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Unexpected Accept %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, models.EventConnected, `{"session_id":"s-1","cluster_id":"prod-east"}`)
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	stream, err := c.OpenStream(context.Background())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Event != models.EventConnected {
		t.Errorf("Expected connected, got %q", ev.Event)
	}
}

func TestOpenStreamAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Authentication failed"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	if _, err := c.OpenStream(context.Background()); !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Expected ErrAuthRejected, got %v", err)
	}
}

func TestPostResultStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"accepted", http.StatusOK, func(err error) bool { return err == nil }},
		{"unauthorized", http.StatusUnauthorized, func(err error) bool { return errors.Is(err, ErrAuthRejected) }},
		{"unknown id", http.StatusNotFound, func(err error) bool { return errors.Is(err, ErrResultDiscarded) }},
		{"too large", http.StatusRequestEntityTooLarge, func(err error) bool { return err != nil }},
		{"server error", http.StatusInternalServerError, func(err error) bool { return err != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/executor/results" || r.Method != http.MethodPost {
					t.Errorf("Unexpected %s %s", r.Method, r.URL.Path)
				}
				var res models.Result
				if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
					t.Errorf("decode: %v", err)
				}
				if res.CommandID != "cmd-1" {
					t.Errorf("Unexpected command id %q", res.CommandID)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(testClientConfig(srv.URL))
			err := c.PostResult(context.Background(), &models.Result{CommandID: "cmd-1", Status: models.StatusSuccess})
			if !tt.check(err) {
				t.Errorf("Unexpected error %v for status %d", err, tt.status)
			}
		})
	}
}

func TestHeartbeatMissingRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/executor/heartbeat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	if err := c.Heartbeat(context.Background()); !errors.Is(err, ErrNoCapabilityRecord) {
		t.Fatalf("Expected ErrNoCapabilityRecord, got %v", err)
	}
}

func TestPostCapabilitiesPayload(t *testing.T) {
	var got models.CapabilityRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/executor/capabilities" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	rec := &models.CapabilityRecord{
		SecurityMode:    models.SecurityModeReadOnly,
		AllowedVerbs:    []string{"get", "logs"},
		ExecutorVersion: "1.2.3",
	}
	if err := c.PostCapabilities(context.Background(), rec); err != nil {
		t.Fatalf("PostCapabilities: %v", err)
	}
	if got.SecurityMode != models.SecurityModeReadOnly || len(got.AllowedVerbs) != 2 || got.ExecutorVersion != "1.2.3" {
		t.Errorf("Unexpected payload %+v", got)
	}
}
