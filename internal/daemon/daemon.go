// Package daemon wires configuration, browser sessions, the orchestrator and
// the HTTP API into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/llmsession/internal/config"
	"github.com/harun/llmsession/internal/logger"
	"github.com/harun/llmsession/internal/observability"
	"github.com/harun/llmsession/internal/tracing"
	"github.com/harun/llmsession/pkg/api"
	"github.com/harun/llmsession/pkg/browser"
	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/ledger"
	"github.com/harun/llmsession/pkg/orchestrator"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/rs/zerolog"
)

// Daemon represents the llmsession service process
type Daemon struct {
	config *config.Config
	log    *logger.Logger
	logger zerolog.Logger

	factory      driver.Factory
	jobs         *ledger.Store
	orchestrator *orchestrator.Orchestrator
	server       *api.Server
	lifecycle    *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
	auditEnabled   bool
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Ready     bool
	Providers []provider.Provider
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithDriverFactory replaces the Chrome-backed driver factory.
func WithDriverFactory(f driver.Factory) Option {
	return func(d *Daemon) {
		d.factory = f
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		config: cfg,
		log:    log,
		logger: log.Component("daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := tracing.Init(tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
	}); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initialize(); err != nil {
		d.release()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config

	if cfg.Audit.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0755); err != nil {
			return fmt.Errorf("failed to create audit directory: %w", err)
		}
		if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		d.auditEnabled = true
		d.logger.Info().Str("path", cfg.Audit.Path).Msg("Audit logger initialized")
	} else {
		observability.SetAuditLogger(zerolog.Nop())
		d.logger.Debug().Msg("Audit log disabled")
	}

	if d.factory == nil {
		factory, err := browser.NewFactory(browserOptions(cfg), d.log.Component("browser"))
		if err != nil {
			return fmt.Errorf("failed to create browser factory: %w", err)
		}
		d.factory = factory
	}

	var orchOpts []orchestrator.Option
	if cfg.Ledger.Path != "" {
		jobs, err := ledger.Open(cfg.Ledger.Path, d.log.Component("ledger"))
		if err != nil {
			return fmt.Errorf("failed to open job ledger: %w", err)
		}
		d.jobs = jobs
		orchOpts = append(orchOpts, orchestrator.WithRecorder(jobs))
		d.logger.Info().Str("path", cfg.Ledger.Path).Msg("Job ledger opened")
	}

	orch, err := orchestrator.New(d.factory, orchestrator.Options{
		Providers:              cfg.EnabledProviders(),
		StepTimeout:            cfg.Session.StepTimeout,
		InitTimeout:            cfg.Session.InitTimeout,
		InitAttempts:           cfg.Session.InitAttempts,
		InitRetryDelay:         cfg.Session.InitRetryDelay,
		InitBatchSize:          cfg.Session.InitBatchSize,
		MaxConsecutiveTimeouts: cfg.Session.MaxConsecutiveTimeouts,
		IdleTimeout:            cfg.Session.IdleTimeout,
		ReapSchedule:           cfg.Session.ReapSchedule,
	}, d.log.Component("orchestrator"), orchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orch

	apiCfg := api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Orchestrator: orch,
		Logger:       d.log.Zerolog(),
	}
	if d.jobs != nil {
		apiCfg.Jobs = d.jobs
	}
	server, err := api.NewServer(apiCfg)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	d.server = server

	return nil
}

// browserOptions maps provider entries onto browser profile overrides.
func browserOptions(cfg *config.Config) browser.Options {
	profiles := make(map[provider.Provider]browser.Profile)
	for _, p := range cfg.EnabledProviders() {
		pc, _ := cfg.LookupProvider(p)
		profiles[p] = browser.Profile{
			Provider:         p,
			URL:              pc.URL,
			InputSelector:    pc.InputSelector,
			SendSelector:     pc.SendSelector,
			ResponseSelector: pc.ResponseSelector,
			BusySelector:     pc.BusySelector,
			LoginSelector:    pc.LoginSelector,
		}
	}

	return browser.Options{
		Headless:          cfg.Browser.Headless,
		NoSandbox:         cfg.Browser.NoSandbox,
		ChromePath:        cfg.Browser.ChromePath,
		DataDir:           cfg.DataDir,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		PollInterval:      cfg.Browser.PollInterval,
		StableFor:         cfg.Browser.StableFor,
		Profiles:          profiles,
	}
}

// Start writes the PID file, starts provider sessions and begins serving HTTP.
// Browsers come up in the background; /ready reports when they are all up.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx = tracing.NewRequestContext(ctx)
	logger := tracing.LoggerFromContext(ctx, d.logger)
	logger.Info().
		Strs("providers", providerNames(d.config.EnabledProviders())).
		Msg("Starting llmsession daemon")

	if err := d.start(ctx, logger); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	logger.Info().Str("addr", d.server.Addr()).Msg("Daemon started")
	return nil
}

func (d *Daemon) start(ctx context.Context, logger zerolog.Logger) error {
	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.jobs != nil {
		n, err := d.jobs.Recover(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to recover job ledger")
		} else if n > 0 {
			logger.Info().Int64("jobs", n).Msg("Marked unfinished jobs from a previous run as abandoned")
		}
	}

	if err := d.orchestrator.Start(ctx); err != nil {
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	if err := d.server.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.Server.ShutdownTimeout)
		defer cancel()
		_ = d.orchestrator.Shutdown(shutdownCtx)
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop shuts the daemon down: HTTP first, then queued jobs and browsers,
// then the ledger and telemetry.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	ctx := tracing.NewRequestContext(context.Background())
	logger := tracing.LoggerFromContext(ctx, d.logger)
	logger.Info().Msg("Stopping llmsession daemon")

	timeout := d.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop API server")
		errs = append(errs, err)
	}
	if err := d.orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop orchestrator")
		errs = append(errs, err)
	}
	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
		errs = append(errs, err)
	}

	d.release()

	logger.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

// release closes resources opened by New.
func (d *Daemon) release() {
	if d.jobs != nil {
		if err := d.jobs.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close job ledger")
		}
		d.jobs = nil
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if d.auditEnabled {
		if err := observability.GetAuditLogger().Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close audit logger")
		}
		d.auditEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Ready = d.orchestrator.Ready()
		status.Providers = d.orchestrator.Health()
	}

	return status
}

// Wait blocks until SIGINT/SIGTERM, ctx cancellation or an HTTP server
// failure, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context cancelled")
	case err, ok := <-d.server.Err():
		if ok {
			serveErr = err
		}
	}

	return errors.Join(serveErr, d.Stop())
}

// Addr returns the bound HTTP address once started.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetOrchestrator returns the orchestrator
func (d *Daemon) GetOrchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}

func providerNames(ps []provider.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}
