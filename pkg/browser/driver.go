// Package browser implements driver.Factory with one Chrome instance per
// provider, driven through the DevTools protocol by go-rod.
//
// Each provider keeps a persistent user data directory so a login performed
// once in a headed browser is reused across restarts.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/harun/llmsession/internal/tracing"
	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	elementTimeout  = 30 * time.Second
	livenessTimeout = 3 * time.Second
)

// snapshotJS reports the number of response blocks, the text of the last one
// and whether the busy marker is present.
const snapshotJS = `(responseSel, busySel) => {
	const nodes = document.querySelectorAll(responseSel);
	const last = nodes.length ? nodes[nodes.length - 1] : null;
	return {
		count: nodes.length,
		text: last ? last.innerText : "",
		busy: busySel ? document.querySelector(busySel) !== null : false,
	};
}`

// Options configures Chrome and reply detection.
type Options struct {
	Headless   bool
	NoSandbox  bool
	ChromePath string
	// DataDir holds per-provider user data directories under profiles/.
	DataDir           string
	NavigationTimeout time.Duration
	PollInterval      time.Duration
	StableFor         time.Duration
	// Profiles overrides the built-in profile fields per provider.
	Profiles map[provider.Provider]Profile
}

// Factory opens go-rod drivers.
type Factory struct {
	opts     Options
	profiles map[provider.Provider]Profile
	logger   zerolog.Logger
}

var _ driver.Factory = (*Factory)(nil)

// NewFactory resolves and validates the profile of every known provider.
func NewFactory(opts Options, logger zerolog.Logger) (*Factory, error) {
	if opts.DataDir == "" {
		return nil, errors.New("data dir is required")
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.StableFor < 0 {
		opts.StableFor = 0
	}

	profiles := make(map[provider.Provider]Profile, len(defaultProfiles))
	for _, p := range provider.All() {
		prof, _ := DefaultProfile(p)
		if override, ok := opts.Profiles[p]; ok {
			prof = prof.Merge(override)
		}
		if err := prof.Validate(); err != nil {
			return nil, err
		}
		profiles[p] = prof
	}

	return &Factory{
		opts:     opts,
		profiles: profiles,
		logger:   logger.With().Str("component", "browser").Logger(),
	}, nil
}

// Profile returns the resolved profile for p.
func (f *Factory) Profile(p provider.Provider) (Profile, bool) {
	prof, ok := f.profiles[p]
	return prof, ok
}

// UserDataDir returns the Chrome profile directory used for p.
func (f *Factory) UserDataDir(p provider.Provider) string {
	return filepath.Join(f.opts.DataDir, "profiles", p.String())
}

// Open launches Chrome for p, loads the chat page and waits for the prompt
// box. A visible sign-in form yields a LoginRequired error.
func (f *Factory) Open(ctx context.Context, p provider.Provider) (driver.Driver, error) {
	prof, ok := f.profiles[p]
	if !ok {
		return nil, fmt.Errorf("no browser profile for %q", p)
	}

	ctx, span := tracing.StartSpan(ctx, "llmsession.browser", "browser.open",
		attribute.String("provider", p.String()),
	)
	defer span.End()

	d, err := f.open(ctx, p, prof)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return d, nil
}

func (f *Factory) open(ctx context.Context, p provider.Provider, prof Profile) (*Driver, error) {
	logger := f.logger.With().Str("provider", p.String()).Logger()

	dir := f.UserDataDir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	// The launcher is not bound to ctx: its process must outlive initialization.
	l := launcher.New().
		Headless(f.opts.Headless).
		UserDataDir(dir)
	if f.opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	if f.opts.ChromePath != "" {
		l = l.Bin(f.opts.ChromePath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, driver.Crash(p, "failed to launch chrome", err)
	}
	if ctx.Err() != nil {
		l.Kill()
		return nil, driver.Timeout(p, "initialization cancelled", ctx.Err())
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, driver.Crash(p, "failed to connect to chrome", err)
	}

	d := &Driver{
		provider: p,
		profile:  prof,
		opts:     f.opts,
		launcher: l,
		browser:  b,
		logger:   logger,
	}
	if err := d.load(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}

	logger.Info().Str("url", prof.URL).Str("user_data_dir", dir).Msg("Browser session opened")
	return d, nil
}

// Driver drives one provider's chat page. Submit is not safe for concurrent
// use; the session layer guarantees a single caller.
type Driver struct {
	provider provider.Provider
	profile  Profile
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ driver.Driver = (*Driver)(nil)

func (d *Driver) load(ctx context.Context) error {
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: d.profile.URL})
	if err != nil {
		return driver.Crash(d.provider, "failed to open page", err)
	}
	d.page = page

	wait := page.Context(ctx).Timeout(d.opts.NavigationTimeout)
	if err := wait.WaitLoad(); err != nil {
		return d.classify(ctx, "load page", err)
	}

	loginShown := false
	race := wait.Race().Element(d.profile.InputSelector)
	if d.profile.LoginSelector != "" {
		race = race.Element(d.profile.LoginSelector).Handle(func(*rod.Element) error {
			loginShown = true
			return nil
		})
	}
	if _, err := race.Do(); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return driver.Timeout(d.provider, "prompt box did not appear", err)
		}
		return d.classify(ctx, "wait for prompt box", err)
	}
	if loginShown {
		return driver.LoginRequired(d.provider, "sign-in page shown", nil)
	}
	return nil
}

// Submit types text into the prompt box, sends it and waits until the reply
// is complete.
func (d *Driver) Submit(ctx context.Context, text string) (string, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return "", driver.Crash(d.provider, "driver closed", nil)
	}

	page := d.page.Context(ctx)

	before, err := d.snapshot(page)
	if err != nil {
		return "", d.classify(ctx, "read page", err)
	}

	box, err := d.element(ctx, page, d.profile.InputSelector)
	if err != nil {
		return "", err
	}
	if err := box.Focus(); err != nil {
		return "", d.classify(ctx, "focus prompt box", err)
	}
	if err := page.InsertText(text); err != nil {
		return "", d.classify(ctx, "type prompt", err)
	}

	if d.profile.SendSelector != "" {
		btn, err := d.element(ctx, page, d.profile.SendSelector)
		if err != nil {
			return "", err
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return "", d.classify(ctx, "click send", err)
		}
	} else if err := page.Keyboard.Type(input.Enter); err != nil {
		return "", d.classify(ctx, "press enter", err)
	}

	tracker := newReplyTracker(before.Count, d.opts.StableFor)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", driver.Timeout(d.provider, "waiting for reply", ctx.Err())
		case now := <-ticker.C:
			snap, err := d.snapshot(page)
			if err != nil {
				return "", d.classify(ctx, "read reply", err)
			}
			if tracker.observe(now, snap) {
				return tracker.text(), nil
			}
		}
	}
}

func (d *Driver) element(ctx context.Context, page *rod.Page, selector string) (*rod.Element, error) {
	el, err := page.Timeout(elementTimeout).Element(selector)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: element %q not found", d.provider, selector)
		}
		return nil, d.classify(ctx, "find "+selector, err)
	}
	return el, nil
}

func (d *Driver) snapshot(page *rod.Page) (pageSnapshot, error) {
	var snap pageSnapshot
	res, err := page.Eval(snapshotJS, d.profile.ResponseSelector, d.profile.BusySelector)
	if err != nil {
		return snap, err
	}
	if err := res.Value.Unmarshal(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode page snapshot: %w", err)
	}
	return snap, nil
}

// classify maps a rod failure onto the driver error kinds. An expired ctx is a
// timeout; a page that no longer answers is a crash; anything else is
// returned as is.
func (d *Driver) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return driver.Timeout(d.provider, op, err)
	}
	if !d.alive() {
		return driver.Crash(d.provider, op, err)
	}
	return fmt.Errorf("%s: %s: %w", d.provider, op, err)
}

func (d *Driver) alive() bool {
	if d.page == nil {
		return false
	}
	_, err := d.page.Timeout(livenessTimeout).Eval(`() => document.readyState`)
	return err == nil
}

// Close shuts Chrome down. The user data directory is kept.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("Browser close returned error")
		}
	}
	if d.launcher != nil {
		d.launcher.Kill()
	}
	d.logger.Info().Msg("Browser session closed")
	return nil
}
