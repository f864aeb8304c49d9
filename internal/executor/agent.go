package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kubently/kubently/internal/models"
)

// healthyStreamAge is how long a stream must live before a reconnect starts
// from the initial backoff interval again.
const healthyStreamAge = 30 * time.Second

// Agent is the executor process: one stream intake loop, one heartbeat loop,
// and a bounded pool of kubectl children. Auth rejection is the only error
// that stops it; everything else reconnects.
type Agent struct {
	cfg     *Config
	client  *Client
	runner  *Runner
	allow   *Allowlist
	log     *slog.Logger
	version string

	serverVersion string

	// children run detached from the stream context so a reconnect or a
	// shutdown drain does not kill them mid-command
	execCtx    context.Context
	execCancel context.CancelFunc
	sem        chan struct{}
	wg         sync.WaitGroup
}

// NewAgent wires the agent from configuration. version is the build version
// advertised in capability reports.
func NewAgent(cfg *Config, version string, log *slog.Logger) (*Agent, error) {
	allow, err := NewAllowlist(cfg.SecurityMode, cfg.ExtraVerbs)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:     cfg,
		client:  NewClient(cfg),
		runner:  NewRunner(cfg, log),
		allow:   allow,
		log:     log,
		version: version,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Run blocks until ctx is canceled or authentication fails. A canceled
// context drains running children and returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if !a.cfg.SkipPreflight {
		version, err := Preflight(a.cfg)
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		a.serverVersion = version
		a.log.Info("Cluster preflight passed", "server_version", version)
	}

	a.execCtx, a.execCancel = context.WithCancel(context.Background())
	defer a.execCancel()

	if err := a.initialReport(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.streamLoop(gctx) })
	g.Go(func() error { return a.heartbeatLoop(gctx) })
	err := g.Wait()

	a.drain()

	if errors.Is(err, context.Canceled) {
		a.log.Info("Executor stopped")
		return nil
	}
	return err
}

// initialReport posts capabilities with a short bounded retry. A fabric that
// is down at startup is not fatal; the heartbeat loop re-reports once it
// comes back. Rejected credentials are fatal immediately.
func (a *Agent) initialReport(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	report := func() (struct{}, error) {
		err := a.reportCapabilities(ctx)
		if errors.Is(err, ErrAuthRejected) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	if _, err := backoff.Retry(ctx, report, backoff.WithBackOff(bo), backoff.WithMaxTries(5)); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		a.log.Warn("Initial capability report failed, heartbeat will retry", "error", err)
	}
	return nil
}

func (a *Agent) reportCapabilities(ctx context.Context) error {
	rec := &models.CapabilityRecord{
		SecurityMode:    a.cfg.SecurityMode,
		AllowedVerbs:    a.allow.Verbs(),
		Features:        map[string]bool{"streaming": true, "truncation": true},
		ExecutorVersion: a.version,
		ServerVersion:   a.serverVersion,
	}
	if err := a.client.PostCapabilities(ctx, rec); err != nil {
		return err
	}
	a.log.Info("Capabilities reported", "security_mode", a.cfg.SecurityMode, "verbs", len(rec.AllowedVerbs))
	return nil
}

// streamLoop keeps one stream open, reconnecting with full-jitter exponential
// backoff. The interval resets after any stream that lived long enough to be
// called healthy, so a flapping network still backs off.
func (a *Agent) streamLoop(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 1
	bo.Multiplier = 2
	bo.MaxInterval = 15 * time.Second

	for {
		started := time.Now()
		err := a.consumeStream(ctx)
		if errors.Is(err, ErrAuthRejected) {
			a.log.Error("Fabric rejected credentials, exiting")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > healthyStreamAge {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		a.log.Warn("Stream lost, reconnecting", "error", err, "delay", delay.Round(time.Millisecond).String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (a *Agent) consumeStream(ctx context.Context) error {
	stream, err := a.client.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		switch ev.Event {
		case models.EventConnected:
			var connected models.ConnectedEvent
			_ = json.Unmarshal(ev.Data, &connected)
			a.log.Info("Stream established", "session_id", connected.SessionID)
		case models.EventKeepalive:
			// liveness only
		case models.EventCommand:
			a.dispatch(ctx, ev.Data)
		case models.EventError:
			var serverErr models.ErrorEvent
			_ = json.Unmarshal(ev.Data, &serverErr)
			return fmt.Errorf("server closed stream: %s", serverErr.Error)
		default:
			a.log.Debug("Ignoring unknown stream event", "event", ev.Event)
		}
	}
}

// dispatch gates one received command and hands it to the pool. Intake blocks
// while the pool is full; the stream's keepalives tolerate that.
func (a *Agent) dispatch(ctx context.Context, data []byte) {
	var cmd models.CommandPayload
	if err := json.Unmarshal(data, &cmd); err != nil {
		a.log.Error("Dropping undecodable command", "error", err)
		return
	}
	log := a.log.With("command_id", cmd.ID)
	if cmd.CorrelationID != "" {
		log = log.With("correlation_id", cmd.CorrelationID)
	}

	if err := a.allow.Check(cmd.Args); err != nil {
		log.Warn("Command rejected by local policy", "error", err)
		executedAt := time.Now().UTC()
		rejected := &models.Result{
			CommandID:  cmd.ID,
			Status:     models.StatusFailure,
			Error:      err.Error(),
			ExecutedAt: &executedAt,
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.deliver(log, rejected)
		}()
		return
	}

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	log.Info("Command accepted", "verb", cmd.Args[0], "args", len(cmd.Args))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.sem }()
		result := a.runner.Run(a.execCtx, &cmd)
		a.deliver(log, result)
	}()
}

// deliver posts one result. Best-effort-once: failures are logged, never
// retried or buffered.
func (a *Agent) deliver(log *slog.Logger, result *models.Result) {
	err := a.client.PostResult(context.Background(), result)
	switch {
	case err == nil:
		log.Info("Result delivered", "status", result.Status, "execution_time_ms", result.ExecutionTimeMS, "truncated", result.Truncated)
	case errors.Is(err, ErrResultDiscarded):
		log.Warn("Result discarded by the fabric", "status", result.Status)
	default:
		log.Error("Failed to deliver result", "status", result.Status, "error", err)
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(a.cfg.HeartbeatSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := a.client.Heartbeat(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrNoCapabilityRecord):
				a.log.Info("Capability record expired, re-reporting")
				if err := a.reportCapabilities(ctx); errors.Is(err, ErrAuthRejected) {
					return err
				} else if err != nil {
					a.log.Warn("Capability re-report failed", "error", err)
				}
			case errors.Is(err, ErrAuthRejected):
				return err
			default:
				a.log.Warn("Heartbeat failed", "error", err)
			}
		}
	}
}

// drain waits for running children, then kills whatever outlives the grace.
func (a *Agent) drain() {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(a.cfg.DrainGraceSeconds) * time.Second):
		a.log.Warn("Drain grace expired, killing remaining commands")
		a.execCancel()
		<-done
	}
}
