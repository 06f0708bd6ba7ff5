package session

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
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusBusy         Status = "busy"
	StatusCrashed      Status = "crashed"
	StatusClosed       Status = "closed"
)

var (
	// ErrNotReady is returned by Acquire when the session has no usable driver.
	ErrNotReady = errors.New("session not ready")
	// ErrBusy is returned by Acquire when an interaction is already in flight.
	ErrBusy = errors.New("session busy")
	// ErrReset is returned by Initialize when a reset raced the initialization.
	ErrReset = errors.New("session reset during initialization")
)

// Options tunes session policy.
type Options struct {
	// MaxConsecutiveTimeouts closes the session after that many timeouts in a
	// row. Zero keeps a timed-out session ready indefinitely.
	MaxConsecutiveTimeouts int
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Snapshot is a read-only view of a Session.
type Snapshot struct {
	Provider            provider.Provider
	Status              Status
	ID                  string
	Healthy             bool
	LastActivityAt      time.Time
	LastError           string
	ConsecutiveTimeouts int
}

// Session owns the driver for one provider.
type Session struct {
	provider provider.Provider
	factory  driver.Factory
	opts     Options
	logger   zerolog.Logger

	mu                  sync.Mutex
	status              Status
	drv                 driver.Driver
	id                  string
	generation          uint64
	initializing        bool
	initDone            chan struct{}
	initErr             error
	closePending        bool
	healthy             bool
	lastActivityAt      time.Time
	lastErr             error
	consecutiveTimeouts int
}

// New creates a session in the initializing state. No driver is opened until
// Initialize is called.
func New(p provider.Provider, factory driver.Factory, logger zerolog.Logger, opts Options) *Session {
	observability.EnsureRegistered()

	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		provider: p,
		factory:  factory,
		opts:     opts,
		logger:   logger.With().Str("provider", p.String()).Logger(),
		status:   StatusInitializing,
	}
	observability.SetSessionState(p.String(), string(StatusInitializing))
	return s
}

// Provider returns the provider this session is bound to.
func (s *Session) Provider() provider.Provider {
	return s.provider
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Healthy reports whether the session has completed initialization and no
// later initialization has failed. A reset alone does not clear it.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Snapshot returns the current state without touching the driver.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Provider:            s.provider,
		Status:              s.status,
		ID:                  s.id,
		Healthy:             s.healthy,
		LastActivityAt:      s.lastActivityAt,
		ConsecutiveTimeouts: s.consecutiveTimeouts,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Initialize opens a fresh driver unless the session is already usable. If
// another goroutine is initializing, Initialize waits for that attempt and
// returns its result.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusReady || s.status == StatusBusy {
		s.mu.Unlock()
		return nil
	}
	if s.initializing {
		done := s.initDone
		s.mu.Unlock()
		return s.awaitInit(ctx, done)
	}
	if s.closePending {
		s.mu.Unlock()
		return fmt.Errorf("%w: previous driver still in use", ErrNotReady)
	}

	s.generation++
	gen := s.generation
	done := make(chan struct{})
	s.initializing = true
	s.initDone = done
	s.setStatus(StatusInitializing)
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "llmsession.session", "session.initialize",
		attribute.String("provider", s.provider.String()),
	)
	defer span.End()

	start := s.opts.Now()
	drv, err := s.factory.Open(ctx, s.provider)
	duration := s.opts.Now().Sub(start)
	observability.RecordSessionInit(s.provider.String(), duration, err == nil)

	var stale driver.Driver

	s.mu.Lock()
	s.initializing = false
	switch {
	case gen != s.generation:
		stale = drv
		s.initErr = ErrReset
		err = ErrReset
	case err != nil:
		s.initErr = err
		s.lastErr = err
		s.healthy = false
		s.setStatus(StatusCrashed)
	default:
		id, _ := gonanoid.New()
		s.drv = drv
		s.id = id
		s.initErr = nil
		s.lastErr = nil
		s.healthy = true
		s.consecutiveTimeouts = 0
		s.lastActivityAt = s.opts.Now()
		s.setStatus(StatusReady)
	}
	close(done)
	s.mu.Unlock()

	if stale != nil {
		if cerr := stale.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("Failed to close driver opened during reset")
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().
			Err(err).
			Str("kind", string(driver.KindOf(err))).
			Dur("duration", duration).
			Msg("Session initialization failed")
		return err
	}

	s.logger.Info().Dur("duration", duration).Msg("Session ready")
	return nil
}

func (s *Session) awaitInit(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusReady || s.status == StatusBusy {
		return nil
	}
	if s.initErr != nil {
		return s.initErr
	}
	return fmt.Errorf("%w: %s is %s", ErrNotReady, s.provider, s.status)
}

// Acquire moves a ready session to busy and hands out its driver.
func (s *Session) Acquire() (driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusReady:
		s.setStatus(StatusBusy)
		return s.drv, nil
	case StatusBusy:
		return nil, ErrBusy
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, s.provider, s.status)
	}
}

// Release returns the driver after an interaction. A crash closes the driver
// and leaves the session crashed; a timeout keeps it ready unless the
// consecutive timeout limit is reached. If a reset arrived while busy, the
// driver is closed now.
func (s *Session) Release(outcome error) {
	var toClose driver.Driver
	reason := ""

	s.mu.Lock()
	s.lastActivityAt = s.opts.Now()

	if s.closePending {
		toClose = s.drv
		s.drv = nil
		s.closePending = false
		s.mu.Unlock()
		s.closeDriver(toClose, "deferred reset")
		return
	}
	if s.status != StatusBusy {
		s.mu.Unlock()
		return
	}

	switch driver.KindOf(outcome) {
	case "":
		s.consecutiveTimeouts = 0
		s.setStatus(StatusReady)
	case driver.KindCrashDetected, driver.KindLoginRequired:
		s.lastErr = outcome
		toClose = s.drv
		s.drv = nil
		s.setStatus(StatusCrashed)
		reason = "crash"
	case driver.KindTimeout:
		s.lastErr = outcome
		s.consecutiveTimeouts++
		if s.opts.MaxConsecutiveTimeouts > 0 && s.consecutiveTimeouts >= s.opts.MaxConsecutiveTimeouts {
			toClose = s.drv
			s.drv = nil
			s.consecutiveTimeouts = 0
			s.setStatus(StatusClosed)
			reason = "timeouts"
		} else {
			s.setStatus(StatusReady)
		}
	default:
		s.lastErr = outcome
		s.setStatus(StatusReady)
	}
	s.mu.Unlock()

	if reason == "timeouts" {
		observability.RecordSessionReset(s.provider.String(), reason)
		s.logger.Warn().Int("limit", s.opts.MaxConsecutiveTimeouts).Msg("Consecutive timeout limit reached, closing session")
	}
	s.closeDriver(toClose, reason)
}

// Reset closes the session. It is idempotent. A busy session is marked closed
// immediately and its driver is closed when the running interaction ends.
func (s *Session) Reset() error {
	s.mu.Lock()
	toClose, changed := s.resetLocked()
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.closeDriver(toClose, "reset")
}

// ResetIfIdle closes a ready session whose last activity is older than maxIdle.
func (s *Session) ResetIfIdle(maxIdle time.Duration) bool {
	s.mu.Lock()
	if s.status != StatusReady || s.opts.Now().Sub(s.lastActivityAt) < maxIdle {
		s.mu.Unlock()
		return false
	}
	toClose, _ := s.resetLocked()
	s.mu.Unlock()

	_ = s.closeDriver(toClose, "idle")
	return true
}

// resetLocked must be called with s.mu held.
func (s *Session) resetLocked() (driver.Driver, bool) {
	if s.status == StatusClosed {
		return nil, false
	}

	s.generation++
	s.consecutiveTimeouts = 0

	var toClose driver.Driver
	if s.status == StatusBusy {
		s.closePending = true
	} else {
		toClose = s.drv
		s.drv = nil
	}
	s.setStatus(StatusClosed)
	return toClose, true
}

func (s *Session) closeDriver(drv driver.Driver, reason string) error {
	if drv == nil {
		return nil
	}
	if err := drv.Close(); err != nil {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("Failed to close driver")
		return fmt.Errorf("failed to close %s driver: %w", s.provider, err)
	}
	s.logger.Info().Str("reason", reason).Msg("Driver closed")
	return nil
}

// setStatus must be called with s.mu held.
func (s *Session) setStatus(status Status) {
	if s.status == status {
		return
	}
	s.logger.Debug().Str("from", string(s.status)).Str("to", string(status)).Msg("Session transition")
	s.status = status
	observability.SetSessionState(s.provider.String(), string(status))
}
