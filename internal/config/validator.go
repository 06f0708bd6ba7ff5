package config

import (
	"errors"
	"fmt"

	"github.com/harun/llmsession/pkg/provider"
	"github.com/robfig/cron/v3"
)

// Validate checks the configuration and reports every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}

	seen := make(map[string]bool)
	for i, pc := range cfg.Providers {
		if !provider.Provider(pc.ID).Valid() {
			errs = append(errs, fmt.Errorf("providers[%d]: unknown provider %q", i, pc.ID))
			continue
		}
		if seen[pc.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate provider %q", i, pc.ID))
		}
		seen[pc.ID] = true
	}
	if len(cfg.EnabledProviders()) == 0 {
		errs = append(errs, errors.New("at least one provider must be enabled"))
	}

	if cfg.Session.StepTimeout <= 0 {
		errs = append(errs, errors.New("session.step_timeout must be positive"))
	}
	if cfg.Session.InitTimeout <= 0 {
		errs = append(errs, errors.New("session.init_timeout must be positive"))
	}
	if cfg.Session.InitAttempts < 1 {
		errs = append(errs, errors.New("session.init_attempts must be at least 1"))
	}
	if cfg.Session.InitRetryDelay < 0 {
		errs = append(errs, errors.New("session.init_retry_delay must not be negative"))
	}
	if cfg.Session.InitBatchSize < 1 {
		errs = append(errs, errors.New("session.init_batch_size must be at least 1"))
	}
	if cfg.Session.MaxConsecutiveTimeouts < 0 {
		errs = append(errs, errors.New("session.max_consecutive_timeouts must not be negative"))
	}
	if cfg.Session.ReapSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Session.ReapSchedule); err != nil {
			errs = append(errs, fmt.Errorf("session.reap_schedule: %w", err))
		}
		if cfg.Session.IdleTimeout <= 0 {
			errs = append(errs, errors.New("session.idle_timeout must be positive when reap_schedule is set"))
		}
	}

	if cfg.Browser.PollInterval <= 0 {
		errs = append(errs, errors.New("browser.poll_interval must be positive"))
	}

	switch cfg.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be none or stdout, got %q", cfg.Tracing.Exporter))
	}

	return errors.Join(errs...)
}
