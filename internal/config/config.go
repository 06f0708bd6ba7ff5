package config

import (
	"time"

	"github.com/harun/llmsession/pkg/provider"
)

// Config represents the llmsession service configuration
type Config struct {
	Server    ServerConfig     `json:"server" mapstructure:"server"`
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`
	Browser   BrowserConfig    `json:"browser" mapstructure:"browser"`
	Session   SessionConfig    `json:"session" mapstructure:"session"`
	Logging   LoggingConfig    `json:"logging" mapstructure:"logging"`
	Tracing   TracingConfig    `json:"tracing" mapstructure:"tracing"`
	Ledger    LedgerConfig     `json:"ledger" mapstructure:"ledger"`
	Audit     AuditConfig      `json:"audit" mapstructure:"audit"`

	// Data directory; browser profiles live under <data_dir>/profiles/<provider>
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ProviderConfig enables a provider and optionally overrides its browser profile
type ProviderConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Disabled bool   `json:"disabled" mapstructure:"disabled"`
	URL      string `json:"url" mapstructure:"url"`

	// Selector overrides; empty values keep the built-in profile
	InputSelector    string `json:"input_selector" mapstructure:"input_selector"`
	SendSelector     string `json:"send_selector" mapstructure:"send_selector"`
	ResponseSelector string `json:"response_selector" mapstructure:"response_selector"`
	BusySelector     string `json:"busy_selector" mapstructure:"busy_selector"`
	LoginSelector    string `json:"login_selector" mapstructure:"login_selector"`
}

// BrowserConfig holds Chrome launch settings shared by every provider
type BrowserConfig struct {
	Headless          bool          `json:"headless" mapstructure:"headless"`
	NoSandbox         bool          `json:"no_sandbox" mapstructure:"no_sandbox"`
	ChromePath        string        `json:"chrome_path" mapstructure:"chrome_path"`
	NavigationTimeout time.Duration `json:"navigation_timeout" mapstructure:"navigation_timeout"`
	PollInterval      time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	StableFor         time.Duration `json:"stable_for" mapstructure:"stable_for"`
}

// SessionConfig holds session lifecycle and worker policy
type SessionConfig struct {
	StepTimeout            time.Duration `json:"step_timeout" mapstructure:"step_timeout"`
	InitTimeout            time.Duration `json:"init_timeout" mapstructure:"init_timeout"`
	InitAttempts           int           `json:"init_attempts" mapstructure:"init_attempts"`
	InitRetryDelay         time.Duration `json:"init_retry_delay" mapstructure:"init_retry_delay"`
	InitBatchSize          int           `json:"init_batch_size" mapstructure:"init_batch_size"`
	MaxConsecutiveTimeouts int           `json:"max_consecutive_timeouts" mapstructure:"max_consecutive_timeouts"` // 0 disables forced reset
	IdleTimeout            time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	ReapSchedule           string        `json:"reap_schedule" mapstructure:"reap_schedule"` // cron spec, empty disables
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	Exporter    string `json:"exporter" mapstructure:"exporter"` // none, stdout
}

// LedgerConfig holds job ledger configuration
type LedgerConfig struct {
	Path string `json:"path" mapstructure:"path"` // empty disables the ledger
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	Path string `json:"path" mapstructure:"path"` // empty disables the audit log
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	providers := make([]ProviderConfig, 0, len(provider.All()))
	for _, p := range provider.All() {
		providers = append(providers, ProviderConfig{ID: p.String()})
	}

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Providers: providers,
		Browser: BrowserConfig{
			Headless:          false,
			NavigationTimeout: 60 * time.Second,
			PollInterval:      500 * time.Millisecond,
			StableFor:         2 * time.Second,
		},
		Session: SessionConfig{
			StepTimeout:            3 * time.Minute,
			InitTimeout:            2 * time.Minute,
			InitAttempts:           2,
			InitRetryDelay:         time.Second,
			InitBatchSize:          len(providers),
			MaxConsecutiveTimeouts: 0,
			IdleTimeout:            0,
			ReapSchedule:           "",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "llmsession",
			Exporter:    "none",
		},
	}
}

// EnabledProviders returns the providers that are not disabled, in config order.
// Entries with unknown IDs are skipped; Validate reports them.
func (c *Config) EnabledProviders() []provider.Provider {
	out := make([]provider.Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		if pc.Disabled {
			continue
		}
		p := provider.Provider(pc.ID)
		if !p.Valid() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// LookupProvider returns the entry for p, if configured.
func (c *Config) LookupProvider(p provider.Provider) (ProviderConfig, bool) {
	for _, pc := range c.Providers {
		if pc.ID == p.String() {
			return pc, true
		}
	}
	return ProviderConfig{}, false
}
