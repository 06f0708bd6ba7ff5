package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/harun/llmsession/internal/observability"
	"github.com/harun/llmsession/internal/tracing"
	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/harun/llmsession/pkg/session"
	"github.com/harun/llmsession/pkg/workqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// worker is the only goroutine that drives its provider's session.
type worker struct {
	provider     provider.Provider
	session      *session.Session
	queue        *workqueue.Queue[*Job]
	chain        *ChainExecutor
	recorder     Recorder
	initTimeout  time.Duration
	initAttempts int
	// initRetryDelay is the pause between failed initialization attempts.
	initRetryDelay time.Duration
	logger         zerolog.Logger
	// jobLogger has no provider field; job contexts carry it.
	jobLogger zerolog.Logger
	done      chan struct{}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	w.logger.Debug().Msg("Worker started")
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			w.logger.Debug().Err(err).Msg("Worker stopped")
			return
		}
		w.process(job)
	}
}

// process runs one job and always delivers an outcome.
func (w *worker) process(job *Job) {
	ctx := tracing.WithJobID(job.ctx, job.ID)
	ctx = tracing.WithProvider(ctx, w.provider.String())
	ctx, span := tracing.StartSpan(ctx, "llmsession.orchestrator", "orchestrator.execute_job",
		attribute.String("provider", w.provider.String()),
		attribute.String("job_id", job.ID),
		attribute.String("mode", string(job.Payload.Mode)),
		attribute.Int("steps", len(job.Payload.Prompts)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, w.jobLogger)

	outcome := Outcome{
		JobID:       job.ID,
		Provider:    w.provider,
		Mode:        job.Payload.Mode,
		SubmittedAt: job.SubmittedAt,
		StartedAt:   time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Worker recovered from panic")
			outcome.Err = fmt.Errorf("internal error: %v", r)
			w.session.Release(driver.Crash(w.provider, "worker panic", outcome.Err))
		}
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, outcome.Err.Error())
		}
		w.deliver(ctx, logger, job, outcome)
	}()

	logger.Info().
		Int("steps", len(job.Payload.Prompts)).
		Dur("queued", outcome.StartedAt.Sub(job.SubmittedAt)).
		Msg("Job started")

	drv, err := w.acquire(ctx)
	if err != nil {
		outcome.Err = err
		return
	}
	outcome.SessionID = w.session.Snapshot().ID

	results, err := w.chain.Run(ctx, w.provider, drv, job.Payload.Prompts)
	w.session.Release(err)

	outcome.Results = results
	outcome.Err = err
}

// maxResetRestarts bounds how often one acquire restarts initialization
// because a reset interrupted it.
const maxResetRestarts = 10

// acquire makes the session ready and takes it. Initialization is retried up
// to initAttempts times with initRetryDelay between attempts; a login failure
// is not retried. A reset that interrupts initialization restarts it without
// using up an attempt.
func (w *worker) acquire(ctx context.Context) (driver.Driver, error) {
	var lastErr error
	attempt, restarts := 0, 0
	for attempt < w.initAttempts {
		initCtx, cancel := w.initContext(ctx)
		err := w.session.Initialize(initCtx)
		cancel()

		if err == nil {
			drv, aerr := w.session.Acquire()
			if aerr == nil {
				return drv, nil
			}
			err = aerr
		}
		lastErr = err

		if w.interruptedByReset(err) && restarts < maxResetRestarts {
			restarts++
			w.logger.Info().Err(err).Msg("Session reset during initialization, starting over")
			continue
		}
		attempt++

		w.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", w.initAttempts).
			Msg("Session not ready")

		if errors.Is(err, driver.ErrLoginRequired) || attempt >= w.initAttempts {
			break
		}
		if err := w.pause(ctx); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrSessionNotReady, w.provider, lastErr)
}

// interruptedByReset reports whether err came from a reset racing the
// initialization, either inside Initialize or between Initialize and Acquire.
func (w *worker) interruptedByReset(err error) bool {
	if errors.Is(err, session.ErrReset) {
		return true
	}
	return errors.Is(err, session.ErrNotReady) && w.session.Status() == session.StatusClosed
}

func (w *worker) pause(ctx context.Context) error {
	if w.initRetryDelay <= 0 {
		return nil
	}
	t := time.NewTimer(w.initRetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) initContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.initTimeout > 0 {
		return context.WithTimeout(ctx, w.initTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *worker) deliver(ctx context.Context, logger zerolog.Logger, job *Job, outcome Outcome) {
	outcome.FinishedAt = time.Now()
	if !job.finish(outcome) {
		return
	}

	success := outcome.Err == nil
	observability.RecordJob(w.provider.String(), string(outcome.Mode), outcome.Duration(), success)

	status := "success"
	metadata := map[string]interface{}{
		"job_id":      job.ID,
		"mode":        string(outcome.Mode),
		"steps":       len(job.Payload.Prompts),
		"duration_ms": outcome.Duration().Milliseconds(),
	}
	if success {
		logger.Info().Dur("duration", outcome.Duration()).Msg("Job completed")
	} else {
		status = "failed"
		metadata["error_kind"] = ErrorKind(outcome.Err)
		logger.Error().Err(outcome.Err).Str("kind", ErrorKind(outcome.Err)).Dur("duration", outcome.Duration()).Msg("Job failed")
	}
	observability.RecordJobAudit(ctx, "job.finished", w.provider.String(), status, metadata)

	if w.recorder != nil {
		if err := w.recorder.RecordFinished(ctx, outcome); err != nil {
			logger.Warn().Err(err).Msg("Failed to record job outcome")
		}
	}
}
