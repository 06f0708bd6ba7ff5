package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/llmsession/internal/observability"
	"github.com/harun/llmsession/internal/tracing"
	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/harun/llmsession/pkg/session"
	"github.com/harun/llmsession/pkg/workqueue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Recorder persists job history. Failures are logged and never fail a job.
type Recorder interface {
	RecordSubmitted(ctx context.Context, job *Job) error
	RecordFinished(ctx context.Context, outcome Outcome) error
}

// Options holds orchestration policy.
type Options struct {
	// Providers are the enabled providers, in health-report order.
	Providers []provider.Provider
	// StepTimeout bounds every prompt submission.
	StepTimeout time.Duration
	// InitTimeout bounds one session initialization attempt.
	InitTimeout time.Duration
	// InitAttempts is how many times a worker tries to initialize a session
	// before failing the job.
	InitAttempts int
	// InitRetryDelay is the pause between a failed initialization attempt and
	// the next one. Zero retries immediately.
	InitRetryDelay time.Duration
	// InitBatchSize caps parallel initializations at startup. Zero means all
	// providers at once.
	InitBatchSize int
	// MaxConsecutiveTimeouts closes a session after that many timeouts in a row.
	MaxConsecutiveTimeouts int
	// IdleTimeout and ReapSchedule enable the idle session reaper when both are set.
	IdleTimeout  time.Duration
	ReapSchedule string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every job in r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithSessionClock overrides the clock sessions use for idle tracking.
func WithSessionClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator owns one session, queue and worker per enabled provider.
type Orchestrator struct {
	opts     Options
	factory  driver.Factory
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time

	order   []provider.Provider
	workers map[provider.Provider]*worker

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	reaper      *cron.Cron
	initialized chan struct{}
}

// New builds an orchestrator. Nothing runs until Start.
func New(factory driver.Factory, opts Options, logger zerolog.Logger, options ...Option) (*Orchestrator, error) {
	if factory == nil {
		return nil, errors.New("driver factory is required")
	}
	if len(opts.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if opts.ReapSchedule != "" {
		if _, err := cron.ParseStandard(opts.ReapSchedule); err != nil {
			return nil, fmt.Errorf("invalid reap schedule %q: %w", opts.ReapSchedule, err)
		}
	}
	if opts.InitAttempts <= 0 {
		opts.InitAttempts = 1
	}
	if opts.InitBatchSize <= 0 || opts.InitBatchSize > len(opts.Providers) {
		opts.InitBatchSize = len(opts.Providers)
	}

	observability.EnsureRegistered()

	o := &Orchestrator{
		opts:        opts,
		factory:     factory,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		workers:     make(map[provider.Provider]*worker, len(opts.Providers)),
		initialized: make(chan struct{}),
	}
	for _, opt := range options {
		opt(o)
	}

	chain := NewChainExecutor(opts.StepTimeout, o.logger)
	for _, p := range opts.Providers {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, p)
		}
		if _, dup := o.workers[p]; dup {
			return nil, fmt.Errorf("provider %s listed twice", p)
		}

		wlogger := o.logger.With().Str("provider", p.String()).Logger()
		o.order = append(o.order, p)
		o.workers[p] = &worker{
			provider: p,
			session: session.New(p, factory, logger, session.Options{
				MaxConsecutiveTimeouts: opts.MaxConsecutiveTimeouts,
				Now:                    o.now,
			}),
			queue:          workqueue.New[*Job](p.String()),
			chain:          chain,
			recorder:       o.recorder,
			initTimeout:    opts.InitTimeout,
			initAttempts:   opts.InitAttempts,
			initRetryDelay: opts.InitRetryDelay,
			logger:         wlogger,
			jobLogger:      o.logger,
			done:           make(chan struct{}),
		}
	}
	return o, nil
}

// Start launches the workers, begins initializing every session in parallel
// batches and schedules the idle reaper. It does not wait for initialization;
// use Initialized for that.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.started {
		return nil
	}

	if o.opts.ReapSchedule != "" && o.opts.IdleTimeout > 0 {
		c := cron.New()
		if _, err := c.AddFunc(o.opts.ReapSchedule, o.reapIdle); err != nil {
			return fmt.Errorf("invalid reap schedule %q: %w", o.opts.ReapSchedule, err)
		}
		c.Start()
		o.reaper = c
	}

	runCtx, cancel := context.WithCancel(tracing.Detach(ctx))
	o.cancel = cancel
	o.started = true

	for _, p := range o.order {
		go o.workers[p].run(runCtx)
	}
	go o.initializeAll(runCtx)

	o.logger.Info().
		Int("providers", len(o.order)).
		Int("init_batch", o.opts.InitBatchSize).
		Msg("Orchestrator started")
	return nil
}

func (o *Orchestrator) initializeAll(ctx context.Context) {
	defer close(o.initialized)

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(o.opts.InitBatchSize)

	for _, p := range o.order {
		w := o.workers[p]
		g.Go(func() error {
			initCtx, cancel := w.initContext(ctx)
			defer cancel()
			if err := w.session.Initialize(initCtx); err != nil {
				// The worker retries on the first job for this provider.
				w.logger.Warn().Err(err).Msg("Startup initialization failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info().
		Strs("ready", providerStrings(o.Health())).
		Dur("duration", time.Since(start)).
		Msg("Startup initialization finished")
}

// Initialized is closed once every startup initialization attempt has finished.
func (o *Orchestrator) Initialized() <-chan struct{} {
	return o.initialized
}

// Submit validates and enqueues a job. The returned handle resolves when the
// provider's worker delivers the outcome. Cancelling ctx does not cancel the job.
func (o *Orchestrator) Submit(ctx context.Context, providerID string, payload Payload) (*Handle, error) {
	p, err := provider.Parse(providerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, providerID)
	}
	w, ok := o.workers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not enabled", ErrInvalidProvider, p)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	started, closed := o.started, o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !started {
		return nil, ErrNotStarted
	}

	ctx, span := tracing.StartSpan(ctx, "llmsession.orchestrator", "orchestrator.submit",
		attribute.String("provider", p.String()),
		attribute.String("mode", string(payload.Mode)),
	)
	defer span.End()

	job := newJob(tracing.Detach(ctx), p, payload)
	span.SetAttributes(attribute.String("job_id", job.ID))
	logger := tracing.LoggerFromContext(ctx, w.logger).With().Str("job_id", job.ID).Logger()

	if o.recorder != nil {
		if err := o.recorder.RecordSubmitted(ctx, job); err != nil {
			logger.Warn().Err(err).Msg("Failed to record job submission")
		}
	}

	if err := w.queue.Push(job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.deliver(job.ctx, logger, job, Outcome{
			JobID:       job.ID,
			Provider:    p,
			Mode:        payload.Mode,
			Err:         ErrClosed,
			SubmittedAt: job.SubmittedAt,
		})
		return nil, ErrClosed
	}

	observability.RecordJobAudit(ctx, "job.submitted", p.String(), "queued", map[string]interface{}{
		"job_id": job.ID,
		"mode":   string(payload.Mode),
		"steps":  len(payload.Prompts),
	})
	logger.Debug().Str("mode", string(payload.Mode)).Int("steps", len(payload.Prompts)).Msg("Job queued")

	return &Handle{job: job}, nil
}

// Generate submits a job and waits for its outcome.
func (o *Orchestrator) Generate(ctx context.Context, providerID string, payload Payload) (Outcome, error) {
	h, err := o.Submit(ctx, providerID, payload)
	if err != nil {
		return Outcome{Err: err}, err
	}
	return h.Wait(ctx)
}

// Reset closes the provider's session. A running job finishes on the old
// driver; the next job initializes a fresh one. Reset is idempotent.
func (o *Orchestrator) Reset(ctx context.Context, providerID string) error {
	p, err := provider.Parse(providerID)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, providerID)
	}
	w, ok := o.workers[p]
	if !ok {
		return fmt.Errorf("%w: %s is not enabled", ErrInvalidProvider, p)
	}

	before := w.session.Status()
	err = w.session.Reset()
	if before != session.StatusClosed {
		observability.RecordSessionReset(p.String(), "manual")
	}

	status := "success"
	if err != nil {
		status = "failed"
	}
	observability.RecordSessionAudit(ctx, "session.reset", p.String(), status, map[string]interface{}{
		"previous_status": string(before),
	})

	logger := tracing.LoggerFromContext(ctx, w.logger)
	logger.Info().
		Str("previous_status", string(before)).
		Err(err).
		Msg("Session reset")
	return err
}

func (o *Orchestrator) reapIdle() {
	for _, p := range o.order {
		w := o.workers[p]
		if w.session.ResetIfIdle(o.opts.IdleTimeout) {
			observability.RecordSessionReset(p.String(), "idle")
			observability.RecordSessionAudit(context.Background(), "session.reaped", p.String(), "success", map[string]interface{}{
				"idle_timeout_ms": o.opts.IdleTimeout.Milliseconds(),
			})
			w.logger.Info().Dur("idle_timeout", o.opts.IdleTimeout).Msg("Idle session closed")
		}
	}
}

// Health lists, in configuration order, the providers whose session has
// completed initialization at least once.
func (o *Orchestrator) Health() []provider.Provider {
	ready := make([]provider.Provider, 0, len(o.order))
	for _, p := range o.order {
		if o.workers[p].session.Healthy() {
			ready = append(ready, p)
		}
	}
	return ready
}

// Ready reports whether every enabled provider has been ready at least once.
func (o *Orchestrator) Ready() bool {
	return len(o.Health()) == len(o.order)
}

// Providers returns the enabled providers in configuration order.
func (o *Orchestrator) Providers() []provider.Provider {
	return append([]provider.Provider(nil), o.order...)
}

// Sessions returns a snapshot of every session.
func (o *Orchestrator) Sessions() []session.Snapshot {
	out := make([]session.Snapshot, 0, len(o.order))
	for _, p := range o.order {
		out = append(out, o.workers[p].session.Snapshot())
	}
	return out
}

// QueueDepth returns the number of jobs waiting for p.
func (o *Orchestrator) QueueDepth(p provider.Provider) int {
	w, ok := o.workers[p]
	if !ok {
		return 0
	}
	return w.queue.Len()
}

// Shutdown stops accepting jobs, fails every job still queued with ErrClosed,
// waits for running jobs to finish and closes all sessions. If ctx ends first,
// sessions are closed anyway and ctx.Err() is returned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	started := o.started
	reaper := o.reaper
	cancel := o.cancel
	o.mu.Unlock()

	o.logger.Info().Msg("Shutting down orchestrator")

	if reaper != nil {
		<-reaper.Stop().Done()
	}

	for _, p := range o.order {
		w := o.workers[p]
		for _, job := range w.queue.Close() {
			w.deliver(job.ctx, w.logger, job, Outcome{
				JobID:       job.ID,
				Provider:    p,
				Mode:        job.Payload.Mode,
				Err:         ErrClosed,
				SubmittedAt: job.SubmittedAt,
			})
		}
	}

	var waitErr error
	if started {
		for _, p := range o.order {
			select {
			case <-o.workers[p].done:
			case <-ctx.Done():
				waitErr = ctx.Err()
			}
			if waitErr != nil {
				break
			}
		}
	}
	if cancel != nil {
		cancel()
	}

	var errs []error
	for _, p := range o.order {
		if err := o.workers[p].session.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	if waitErr != nil {
		errs = append(errs, waitErr)
	}

	o.logger.Info().Msg("Orchestrator stopped")
	return errors.Join(errs...)
}

func providerStrings(ps []provider.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}
