package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kubently/kubently/internal/models"
)

func testRunner(path string, timeout time.Duration, cap int) *Runner {
	return &Runner{
		kubectlPath: path,
		timeout:     timeout,
		outputCap:   cap,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRunnerSuccess(t *testing.T) {
	r := testRunner("echo", 5*time.Second, 1024)
	result := r.Run(context.Background(), &models.CommandPayload{ID: "cmd-1", Args: []string{"get", "pods"}})
	if result.Status != models.StatusSuccess {
		t.Fatalf("Expected success, got %q (%s)", result.Status, result.Error)
	}
	if result.Output != "get pods\n" {
		t.Errorf("Unexpected output %q", result.Output)
	}
	if result.CommandID != "cmd-1" {
		t.Errorf("Unexpected command id %q", result.CommandID)
	}
	if result.ExecutedAt == nil {
		t.Error("Expected executed_at to be set")
	}
	if result.Truncated {
		t.Error("Expected no truncation")
	}
}

func TestRunnerNonZeroExit(t *testing.T) {
	r := testRunner("false", 5*time.Second, 1024)
	result := r.Run(context.Background(), &models.CommandPayload{ID: "cmd-1", Args: []string{"anything"}})
	if result.Status != models.StatusFailure {
		t.Fatalf("Expected failure, got %q", result.Status)
	}
	if result.Error != "exit status 1" {
		t.Errorf("Unexpected error %q", result.Error)
	}
}

func TestRunnerMissingBinary(t *testing.T) {
	r := testRunner("/no/such/kubectl", 5*time.Second, 1024)
	result := r.Run(context.Background(), &models.CommandPayload{ID: "cmd-1", Args: []string{"get"}})
	if result.Status != models.StatusFailure {
		t.Fatalf("Expected failure, got %q", result.Status)
	}
	if result.Error == "" {
		t.Error("Expected an error message")
	}
}

func TestRunnerWallClockLimit(t *testing.T) {
	r := testRunner("sleep", 200*time.Millisecond, 1024)
	start := time.Now()
	result := r.Run(context.Background(), &models.CommandPayload{ID: "cmd-1", Args: []string{"5"}})
	if result.Status != models.StatusTimeout {
		t.Fatalf("Expected timeout, got %q (%s)", result.Status, result.Error)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected the limit to cut the child, took %s", elapsed)
	}
	if !strings.Contains(result.Error, "wall-clock limit") {
		t.Errorf("Unexpected error %q", result.Error)
	}
}

func TestRunnerDeadlineTightensLimit(t *testing.T) {
	r := testRunner("sleep", 10*time.Second, 1024)
	payload := &models.CommandPayload{
		ID:             "cmd-1",
		Args:           []string{"5"},
		DeadlineUnixMS: time.Now().Add(200 * time.Millisecond).UnixMilli(),
	}
	start := time.Now()
	result := r.Run(context.Background(), payload)
	if result.Status != models.StatusTimeout {
		t.Fatalf("Expected timeout, got %q", result.Status)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected the payload deadline to cut the child, took %s", elapsed)
	}
}

func TestRunnerExpiredDeadlineSkipsExecution(t *testing.T) {
	r := testRunner("/no/such/kubectl", 5*time.Second, 1024)
	payload := &models.CommandPayload{
		ID:             "cmd-1",
		Args:           []string{"get"},
		DeadlineUnixMS: time.Now().Add(-time.Second).UnixMilli(),
	}
	result := r.Run(context.Background(), payload)
	if result.Status != models.StatusTimeout {
		t.Fatalf("Expected timeout, got %q", result.Status)
	}
	if result.Error != "command deadline already passed" {
		t.Errorf("Unexpected error %q", result.Error)
	}
}

func TestRunnerTruncatesOutput(t *testing.T) {
	r := testRunner("echo", 5*time.Second, 4)
	result := r.Run(context.Background(), &models.CommandPayload{ID: "cmd-1", Args: []string{"abcdefgh"}})
	if result.Status != models.StatusSuccess {
		t.Fatalf("Expected success, got %q", result.Status)
	}
	if result.Output != "abcd" {
		t.Errorf("Expected output cut at the cap, got %q", result.Output)
	}
	if !result.Truncated {
		t.Error("Expected truncated flag")
	}
}

func TestCapBufferExactFit(t *testing.T) {
	b := &capBuffer{limit: 4}
	if _, err := b.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if b.Truncated() {
		t.Error("Expected exact fit to not count as truncation")
	}
	if _, err := b.Write([]byte("e")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !b.Truncated() {
		t.Error("Expected overflow to set truncation")
	}
	if b.String() != "abcd" {
		t.Errorf("Unexpected buffer %q", b.String())
	}
}
