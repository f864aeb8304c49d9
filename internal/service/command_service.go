package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/pkg/tracing"
	"github.com/kubently/kubently/internal/pkg/validate"
	"github.com/kubently/kubently/internal/repository"
)

// timeoutError is the exact error text of a synthesized timeout result.
const timeoutError = "Command execution timeout"

// maxTimeout is the server-enforced ceiling on caller-supplied timeouts.
const maxTimeout = 60 * time.Second

// CommandService turns one client call into one publish plus one await, and
// ingests the results executors post back.
type CommandService interface {
	// Execute dispatches a command and blocks for its result. A timed-out
	// wait returns a synthesized status=timeout envelope, not an error.
	Execute(ctx context.Context, req *models.ExecuteRequest) (*models.ExecuteResponse, error)
	// IngestResult stores a result delivered by an executor and wakes the
	// blocked dispatcher. First delivery wins.
	IngestResult(ctx context.Context, result *models.Result) error
}

type commandService struct {
	tokens   repository.TokenRepository
	activity repository.ActivityRepository
	bus      *bus.CommandBus
	caps     CapabilityService
	policy   *Policy
	log      *slog.Logger

	defaultTimeout time.Duration
	outputCap      int
	resultTTL      time.Duration
	activeTTL      time.Duration
}

// NewCommandService creates the dispatcher.
func NewCommandService(repo *repository.Repository, cb *bus.CommandBus, caps CapabilityService, policy *Policy, cfg *config.Config, log *slog.Logger) CommandService {
	return &commandService{
		tokens:         repo.Token,
		activity:       repo.Activity,
		bus:            cb,
		caps:           caps,
		policy:         policy,
		log:            log,
		defaultTimeout: time.Duration(cfg.CommandTimeoutDefaultSeconds) * time.Second,
		outputCap:      cfg.CommandOutputCapBytes,
		resultTTL:      time.Duration(cfg.ResultTTLSeconds) * time.Second,
		activeTTL:      time.Duration(cfg.ActiveHintTTLSeconds) * time.Second,
	}
}

func (s *commandService) Execute(ctx context.Context, req *models.ExecuteRequest) (*models.ExecuteResponse, error) {
	if err := validateShape(req); err != nil {
		metrics.CommandsRejectedTotal.WithLabelValues("shape").Inc()
		return nil, err
	}

	token, err := s.tokens.GetToken(ctx, req.ClusterID)
	if err != nil {
		return nil, unavailable(err)
	}
	if token == "" {
		metrics.CommandsRejectedTotal.WithLabelValues("unknown_cluster").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, req.ClusterID)
	}

	verb := req.CommandType
	if !s.policy.AllowsVerb(verb) {
		metrics.CommandsRejectedTotal.WithLabelValues("verb_policy").Inc()
		return nil, fmt.Errorf("%w: verb %q not allowed by policy", ErrInvalidArgument, verb)
	}
	if err := s.checkCapabilityGate(ctx, req.ClusterID, verb); err != nil {
		return nil, err
	}

	if err := s.policy.CheckForbidden(append(append([]string{}, req.Args...), req.ExtraArgs...)); err != nil {
		metrics.CommandsRejectedTotal.WithLabelValues("forbidden_flag").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := s.policy.CheckExtraArgs(req.ExtraArgs); err != nil {
		metrics.CommandsRejectedTotal.WithLabelValues("extra_args").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	timeout := s.clampTimeout(req.TimeoutSeconds)
	commandID, err := newCommandID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate command id: %w", err)
	}

	ctx, span := tracing.StartSpanWithAttributes(ctx, "command.dispatch",
		attribute.String("cluster.id", req.ClusterID),
		attribute.String("command.verb", verb),
		attribute.String("command.id", commandID),
	)
	defer span.End()
	payload := &models.CommandPayload{
		ID:             commandID,
		Args:           composeArgs(req),
		DeadlineUnixMS: time.Now().Add(timeout).UnixMilli(),
		CorrelationID:  req.CorrelationID,
	}

	// The pending marker outlives the deadline by the slot TTL so a late
	// result is stored and left to expire unread.
	if err := s.bus.MarkPending(ctx, commandID, timeout+s.resultTTL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(err)
	}
	if err := s.activity.MarkActive(ctx, req.ClusterID, s.activeTTL); err != nil {
		// advisory hint, dispatch continues
		s.log.Warn("Failed to refresh activity hint", "cluster_id", req.ClusterID, "error", err)
	}

	receivers, err := s.bus.PublishCommand(ctx, req.ClusterID, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(err)
	}
	reqID := logger.FromContext(ctx)
	logger.CommandLog(os.Stdout, reqID, req.ClusterID, commandID, "command dispatched", 0, "")
	if receivers == 0 {
		// Accepted race with a (re)connecting executor: wait out the full
		// deadline rather than short-circuiting.
		s.log.Debug("No subscribers at publish time", "cluster_id", req.ClusterID, "command_id", commandID)
	}

	start := time.Now()
	result, err := s.bus.AwaitResult(ctx, commandID, timeout)
	wait := time.Since(start)
	metrics.CommandWaitSeconds.Observe(wait.Seconds())

	switch {
	case err == nil:
		span.SetAttributes(attribute.String("command.status", result.Status))
		metrics.CommandsDispatchedTotal.WithLabelValues(result.Status).Inc()
		logger.CommandLog(os.Stdout, reqID, req.ClusterID, commandID, "result collected", wait, result.Error)
		return models.EnvelopeFor(req.ClusterID, result), nil
	case errors.Is(err, bus.ErrAwaitTimeout):
		span.SetAttributes(attribute.String("command.status", models.StatusTimeout))
		metrics.CommandsDispatchedTotal.WithLabelValues(models.StatusTimeout).Inc()
		logger.CommandLog(os.Stdout, reqID, req.ClusterID, commandID, "command timed out", wait, timeoutError)
		return &models.ExecuteResponse{
			CommandID: commandID,
			ClusterID: req.ClusterID,
			Status:    models.StatusTimeout,
			Error:     timeoutError,
		}, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(err)
	}
}

func (s *commandService) IngestResult(ctx context.Context, result *models.Result) error {
	if result.CommandID == "" {
		return fmt.Errorf("%w: command_id is required", ErrInvalidArgument)
	}
	if s.outputCap > 0 && len(result.Output) > s.outputCap {
		metrics.ResultsIngestedTotal.WithLabelValues("too_large").Inc()
		return fmt.Errorf("%w: output is %d bytes, cap is %d", ErrResultTooLarge, len(result.Output), s.outputCap)
	}

	has, err := s.bus.HasResult(ctx, result.CommandID)
	if err != nil {
		return unavailable(err)
	}
	if has {
		metrics.ResultsIngestedTotal.WithLabelValues("duplicate").Inc()
		return ErrDuplicateResult
	}
	pending, err := s.bus.IsPending(ctx, result.CommandID)
	if err != nil {
		return unavailable(err)
	}
	if !pending {
		metrics.ResultsIngestedTotal.WithLabelValues("unknown").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, result.CommandID)
	}

	stored, err := s.bus.StoreResult(ctx, result, s.resultTTL)
	if err != nil {
		return unavailable(err)
	}
	if !stored {
		metrics.ResultsIngestedTotal.WithLabelValues("duplicate").Inc()
		return ErrDuplicateResult
	}
	metrics.ResultsIngestedTotal.WithLabelValues("accepted").Inc()
	logger.CommandLog(os.Stdout, logger.FromContext(ctx), "", result.CommandID, "result stored",
		time.Duration(result.ExecutionTimeMS)*time.Millisecond, result.Error)
	return nil
}

// checkCapabilityGate narrows the verb set to the cluster's advertised
// allow-list when a record exists. The record is advisory: absence or a read
// failure falls back to the static policy already applied.
func (s *commandService) checkCapabilityGate(ctx context.Context, clusterID, verb string) error {
	rec, err := s.caps.Get(ctx, clusterID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		s.log.Warn("Capability read failed, proceeding on static policy", "cluster_id", clusterID, "error", err)
		return nil
	}
	if !rec.AllowsVerb(verb) {
		metrics.CommandsRejectedTotal.WithLabelValues("capability").Inc()
		return fmt.Errorf("%w: verb %q not in cluster capabilities", ErrInvalidArgument, verb)
	}
	return nil
}

func (s *commandService) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return s.defaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > maxTimeout {
		d = maxTimeout
	}
	return d
}

func validateShape(req *models.ExecuteRequest) error {
	if !validate.ClusterID(req.ClusterID) {
		return fmt.Errorf("%w: malformed cluster_id", ErrInvalidArgument)
	}
	if !validate.Verb(req.CommandType) {
		return fmt.Errorf("%w: malformed command_type", ErrInvalidArgument)
	}
	if req.Namespace != "" && !validate.Namespace(req.Namespace) {
		return fmt.Errorf("%w: malformed namespace", ErrInvalidArgument)
	}
	composed := 1 + len(req.Args) + len(req.ExtraArgs)
	if req.Namespace != "" {
		composed += 2
	}
	if composed > models.MaxArgs {
		return fmt.Errorf("%w: %d args exceeds limit of %d", ErrInvalidArgument, composed, models.MaxArgs)
	}
	for _, arg := range req.Args {
		if len(arg) > models.MaxArgLen {
			return fmt.Errorf("%w: arg exceeds %d bytes", ErrInvalidArgument, models.MaxArgLen)
		}
	}
	for _, arg := range req.ExtraArgs {
		if len(arg) > models.MaxArgLen {
			return fmt.Errorf("%w: extra arg exceeds %d bytes", ErrInvalidArgument, models.MaxArgLen)
		}
	}
	return nil
}

// composeArgs builds the final argv: verb, args, namespace flag, extra args.
func composeArgs(req *models.ExecuteRequest) []string {
	args := make([]string, 0, 3+len(req.Args)+len(req.ExtraArgs))
	args = append(args, req.CommandType)
	args = append(args, req.Args...)
	if req.Namespace != "" {
		args = append(args, "-n", req.Namespace)
	}
	args = append(args, req.ExtraArgs...)
	return args
}

// newCommandID returns a 128-bit random id in URL-safe base64.
func newCommandID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
