package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults valid", mutate: func(*Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Providers = append(c.Providers, ProviderConfig{ID: "bard"}) },
			wantErr: `unknown provider "bard"`,
		},
		{
			name:    "duplicate provider",
			mutate:  func(c *Config) { c.Providers = append(c.Providers, ProviderConfig{ID: "claude"}) },
			wantErr: "duplicate provider",
		},
		{
			name: "all disabled",
			mutate: func(c *Config) {
				for i := range c.Providers {
					c.Providers[i].Disabled = true
				}
			},
			wantErr: "at least one provider",
		},
		{
			name:    "zero step timeout",
			mutate:  func(c *Config) { c.Session.StepTimeout = 0 },
			wantErr: "session.step_timeout",
		},
		{
			name:    "zero init attempts",
			mutate:  func(c *Config) { c.Session.InitAttempts = 0 },
			wantErr: "session.init_attempts",
		},
		{
			name:    "negative init retry delay",
			mutate:  func(c *Config) { c.Session.InitRetryDelay = -time.Second },
			wantErr: "session.init_retry_delay",
		},
		{
			name:    "bad cron",
			mutate:  func(c *Config) { c.Session.ReapSchedule = "every minute"; c.Session.IdleTimeout = 1 },
			wantErr: "session.reap_schedule",
		},
		{
			name:    "reaper without idle timeout",
			mutate:  func(c *Config) { c.Session.ReapSchedule = "@every 1m" },
			wantErr: "session.idle_timeout",
		},
		{
			name:    "unknown exporter",
			mutate:  func(c *Config) { c.Tracing.Exporter = "jaeger" },
			wantErr: "tracing.exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
