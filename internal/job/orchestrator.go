package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/backoff"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/gate"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
	"github.com/phrazzld/scry-jobs/internal/redact"
)

// Outcome is the result of dispatching one leased job.
type Outcome string

// Dispatch outcomes.
const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeRetryScheduled  Outcome = "retry_scheduled"
	OutcomeFailedPermanent Outcome = "failed_permanent"
	OutcomeLeaseLost       Outcome = "lease_lost"
	OutcomeUnknownType     Outcome = "unknown_type"
	OutcomeAbandoned       Outcome = "abandoned"
	OutcomeStoreError      Outcome = "store_error"
)

// defaultStoreWriteTimeout bounds each outcome write issued after a handler returns.
const defaultStoreWriteTimeout = 30 * time.Second

// Config holds the orchestrator's tuning parameters.
type Config struct {
	// BatchSize is the LeaseBatch limit per poll.
	BatchSize int

	// PollInterval is the default tick of RunWorkerLoop.
	PollInterval time.Duration

	// MaxAttempts is applied to enqueued jobs without an override.
	MaxAttempts int

	// GateAcquireTimeout caps how long a dispatch waits for a concurrency
	// permit. Zero means the wait is bounded only by the lease expiry.
	GateAcquireTimeout time.Duration

	// StoreWriteTimeout bounds each store transition recorded for a
	// dispatched job. The clock starts at the write, not at dispatch.
	StoreWriteTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		BatchSize:         10,
		PollInterval:      time.Second,
		MaxAttempts:       DefaultMaxAttempts,
		StoreWriteTimeout: defaultStoreWriteTimeout,
	}
}

// PermanentFailureHandler is called once when a job exhausts its retry budget.
type PermanentFailureHandler func(j *Job, err error)

// Orchestrator enqueues jobs and dispatches leased jobs to their handlers.
type Orchestrator struct {
	store    Store
	registry *Registry
	config   Config
	logger   *slog.Logger

	backoff   backoff.Strategy
	gates     *gate.Set
	emitter   events.EventEmitter
	now       func() time.Time
	onPermErr PermanentFailureHandler
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBackoff replaces the default retry backoff.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *Orchestrator) { o.backoff = s }
}

// WithGates sets the per-family concurrency gates.
func WithGates(s *gate.Set) Option {
	return func(o *Orchestrator) { o.gates = s }
}

// WithEmitter sets the destination of dispatch events.
func WithEmitter(e events.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPermanentFailureHandler sets the hook invoked when a job fails permanently.
func WithPermanentFailureHandler(h PermanentFailureHandler) Option {
	return func(o *Orchestrator) { o.onPermErr = h }
}

// NewOrchestrator creates an orchestrator over store and registry.
func NewOrchestrator(store Store, registry *Registry, config Config, log *slog.Logger, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.StoreWriteTimeout <= 0 {
		config.StoreWriteTimeout = defaults.StoreWriteTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	o := &Orchestrator{
		store:    store,
		registry: registry,
		config:   config,
		logger:   log.With("component", "orchestrator"),
		backoff:  backoff.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.onPermErr == nil {
		o.onPermErr = func(j *Job, err error) {
			o.logger.Error("job failed permanently",
				"job_id", j.ID,
				"job_type", j.Type,
				"queue", j.Queue,
				"attempt", j.Attempt,
				"error", err)
		}
	}
	return o
}

// Enqueue persists a new job of type t and returns its ID. Types without a
// registered handler are rejected before anything is written.
func (o *Orchestrator) Enqueue(ctx context.Context, t Type, payload Payload, opts EnqueueOptions) (uuid.UUID, error) {
	if _, err := o.registry.Lookup(t); err != nil {
		return uuid.Nil, err
	}
	spec, err := LookupType(t)
	if err != nil {
		return uuid.Nil, err
	}

	now := o.now().UTC()
	j := &Job{
		ID:          uuid.New(),
		Type:        t,
		Queue:       spec.Queue,
		Payload:     payload,
		Priority:    spec.DefaultPriority,
		State:       StateReady,
		ScheduledAt: now,
		MaxAttempts: o.config.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if j.Payload == nil {
		j.Payload = Payload{}
	}
	if opts.Priority != nil {
		j.Priority = *opts.Priority
	}
	if opts.ScheduledAt != nil {
		j.ScheduledAt = opts.ScheduledAt.UTC()
	}
	if opts.MaxAttempts != nil {
		if *opts.MaxAttempts < 1 {
			return uuid.Nil, fmt.Errorf("enqueue %q: %w: max attempts must be at least 1, got %d", t, ErrInvalidOptions, *opts.MaxAttempts)
		}
		j.MaxAttempts = *opts.MaxAttempts
	}

	if err := o.store.Insert(ctx, j); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %q: %w", t, err)
	}

	o.logger.DebugContext(ctx, "job enqueued",
		"job_id", j.ID,
		"job_type", j.Type,
		"queue", j.Queue,
		"priority", j.Priority,
		"scheduled_at", j.ScheduledAt)
	return j.ID, nil
}

// DispatchOne runs the handler for a job leased by this worker and records
// the result. It never returns an error: every failure path ends in an
// Outcome, and the job is left either transitioned or to its lease expiry.
//
// The handler runs with a context that survives cancellation of ctx and
// expires with the lease, so a shutting-down worker lets in-flight work
// finish instead of abandoning it half way.
func (o *Orchestrator) DispatchOne(ctx context.Context, j *Job) Outcome {
	lease := j.Lease()
	log := o.logger.With(
		"job_id", j.ID,
		"job_type", j.Type,
		"queue", j.Queue,
		"attempt", j.Attempt,
		"worker_id", lease.WorkerID)

	started := events.NewDispatchEvent(events.PhaseStarted, j.ID, string(j.Type), string(j.Queue), j.Attempt, lease.WorkerID)
	o.emit(ctx, started)

	outcome, errText := o.dispatch(ctx, j, lease, log)

	o.emit(ctx, started.Finished(string(outcome), errText))
	return outcome
}

func (o *Orchestrator) dispatch(ctx context.Context, j *Job, lease Lease, log *slog.Logger) (Outcome, string) {
	if lease.ExpiresAt.IsZero() {
		log.ErrorContext(ctx, "dispatch called for a job without a lease", "state", j.State)
		return OutcomeLeaseLost, ""
	}

	handler, err := o.registry.Lookup(j.Type)
	if err != nil {
		reason := redact.ForStorage(err)
		log.ErrorContext(ctx, "no handler registered for leased job", "error", err)
		storeCtx, cancel := o.storeContext(ctx)
		defer cancel()
		if markErr := o.store.MarkFailedPermanent(storeCtx, lease, reason); markErr != nil {
			return o.storeFailure(ctx, log, markErr, "mark unknown type permanent"), reason
		}
		return OutcomeUnknownType, reason
	}

	if g, ok := o.gates.For(string(j.Queue)); ok {
		acquireCtx, cancelAcquire := context.WithDeadline(ctx, o.acquireDeadline(lease))
		err := g.Acquire(acquireCtx)
		cancelAcquire()
		if err != nil {
			log.WarnContext(ctx, "no concurrency permit before lease deadline, abandoning to lease expiry",
				"error", err,
				"lease_expires_at", lease.ExpiresAt)
			return OutcomeAbandoned, ""
		}
		defer func() {
			if err := g.Release(); err != nil {
				log.Error("release concurrency permit", "error", err)
			}
		}()
	}

	handlerCtx, cancelHandler := context.WithDeadline(context.WithoutCancel(ctx), lease.ExpiresAt)
	defer cancelHandler()
	handlerCtx = logger.WithLogger(handlerCtx, log)

	if err := o.execute(handlerCtx, handler, j); err != nil {
		return o.recordFailure(ctx, j, lease, log, err)
	}

	storeCtx, cancelStore := o.storeContext(ctx)
	defer cancelStore()
	if err := o.store.MarkSucceeded(storeCtx, lease); err != nil {
		return o.storeFailure(ctx, log, err, "mark succeeded"), ""
	}
	return OutcomeSucceeded, ""
}

// execute calls the handler, converting a panic into a HandlerError.
func (o *Orchestrator) execute(ctx context.Context, h Handler, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Message: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()
	return h.Execute(ctx, j.ID, j.Payload)
}

func (o *Orchestrator) recordFailure(
	ctx context.Context,
	j *Job,
	lease Lease,
	log *slog.Logger,
	cause error,
) (Outcome, string) {
	herr := AsHandlerError(cause)
	reason := redact.ForStorage(herr)
	delay := o.backoff.Delay(lease.Attempt)

	storeCtx, cancel := o.storeContext(ctx)
	defer cancel()
	state, err := o.store.MarkFailed(storeCtx, lease, reason, delay)
	if err != nil {
		return o.storeFailure(ctx, log, err, "mark failed"), reason
	}

	if state == StateFailedPermanent {
		failed := *j
		failed.State = StateFailedPermanent
		failed.LastError = reason
		o.onPermErr(&failed, fmt.Errorf("%w after %d attempts: %w", ErrPermanentFailure, lease.Attempt, herr))
		return OutcomeFailedPermanent, reason
	}

	log.InfoContext(ctx, "job attempt failed, retry scheduled",
		"error", reason,
		"retry_in", delay)
	return OutcomeRetryScheduled, reason
}

// storeContext returns a context for one outcome write. It ignores
// cancellation of ctx so a stopping worker still records finished work.
func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.config.StoreWriteTimeout)
}

func (o *Orchestrator) storeFailure(ctx context.Context, log *slog.Logger, err error, op string) Outcome {
	if errors.Is(err, ErrLeaseConflict) {
		log.WarnContext(ctx, "lease lost before outcome was recorded", "operation", op)
		return OutcomeLeaseLost
	}
	log.ErrorContext(ctx, "store write failed, job left to lease expiry", "operation", op, "error", err)
	return OutcomeStoreError
}

func (o *Orchestrator) acquireDeadline(lease Lease) time.Time {
	deadline := lease.ExpiresAt
	if o.config.GateAcquireTimeout > 0 {
		if capped := o.now().Add(o.config.GateAcquireTimeout); capped.Before(deadline) {
			deadline = capped
		}
	}
	return deadline
}

func (o *Orchestrator) emit(ctx context.Context, e *events.DispatchEvent) {
	if o.emitter == nil {
		return
	}
	// Emitters log their own handler failures.
	_ = o.emitter.EmitEvent(ctx, e)
}

// Gates returns the orchestrator's concurrency gates, possibly nil.
func (o *Orchestrator) Gates() *gate.Set {
	return o.gates
}
