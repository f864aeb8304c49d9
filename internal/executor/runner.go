package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/kubently/kubently/internal/models"
)

// execCommand allows swapping exec.CommandContext in tests.
var execCommand = exec.CommandContext

// Runner executes one command payload as a bounded kubectl child process.
type Runner struct {
	kubectlPath string
	timeout     time.Duration
	outputCap   int
	log         *slog.Logger
}

// NewRunner creates the runner from the agent configuration.
func NewRunner(cfg *Config, log *slog.Logger) *Runner {
	return &Runner{
		kubectlPath: cfg.KubectlPath,
		timeout:     time.Duration(cfg.CommandTimeoutSeconds) * time.Second,
		outputCap:   cfg.OutputCapBytes,
		log:         log,
	}
}

// Run executes the payload and always produces a result to post back. The
// wall-clock limit is the configured per-command timeout, or the payload
// deadline when that is sooner.
func (r *Runner) Run(ctx context.Context, cmd *models.CommandPayload) *models.Result {
	limit := r.timeout
	if cmd.DeadlineUnixMS > 0 {
		if remaining := time.Until(cmd.Deadline()); remaining < limit {
			limit = remaining
		}
	}
	executedAt := time.Now().UTC()
	result := &models.Result{CommandID: cmd.ID, ExecutedAt: &executedAt}
	if limit <= 0 {
		result.Status = models.StatusTimeout
		result.Error = "command deadline already passed"
		return result
	}

	cctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	child := execCommand(cctx, r.kubectlPath, cmd.Args...)
	out := &capBuffer{limit: r.outputCap}
	child.Stdout = out
	child.Stderr = out

	started := time.Now()
	err := child.Run()
	result.ExecutionTimeMS = time.Since(started).Milliseconds()
	result.Output = out.String()
	result.Truncated = out.Truncated()

	switch {
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		result.Status = models.StatusTimeout
		result.Error = fmt.Sprintf("command exceeded %s wall-clock limit", limit.Round(time.Millisecond))
	case err == nil:
		result.Status = models.StatusSuccess
	default:
		result.Status = models.StatusFailure
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Error = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		} else {
			result.Error = err.Error()
		}
	}
	return result
}

// capBuffer stores up to limit bytes and drops the rest, remembering that it
// did. It always reports the full write so the child never sees a short
// write error.
type capBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *capBuffer) String() string { return b.buf.String() }

func (b *capBuffer) Truncated() bool { return b.truncated }
