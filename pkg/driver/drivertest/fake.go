// Package drivertest provides a deterministic in-memory driver.Factory for tests.
//
// The fake records every prompt, can be scripted to fail opens or individual
// prompts with any driver error kind, and counts overlapping Submit calls per
// provider so tests can assert that a provider is never driven concurrently.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/provider"
)

// ReplyFunc produces the reply for one prompt.
type ReplyFunc func(p provider.Provider, prompt string) (string, error)

// EchoReply answers "<provider>:<prompt>".
func EchoReply(p provider.Provider, prompt string) (string, error) {
	return fmt.Sprintf("%s:%s", p, prompt), nil
}

// Factory is a fake driver.Factory.
type Factory struct {
	mu        sync.Mutex
	reply     ReplyFunc
	openErrs  map[provider.Provider][]error
	openDelay time.Duration
	delays    map[provider.Provider]time.Duration
	gates     map[provider.Provider]chan struct{}
	failOn    map[string]error
	drivers   map[provider.Provider][]*Driver
	inFlight  map[provider.Provider]int
	maxFlight map[provider.Provider]int
	overlaps  int
}

var _ driver.Factory = (*Factory)(nil)

// NewFactory returns a Factory answering with EchoReply.
func NewFactory() *Factory {
	return &Factory{
		reply:     EchoReply,
		openErrs:  make(map[provider.Provider][]error),
		delays:    make(map[provider.Provider]time.Duration),
		gates:     make(map[provider.Provider]chan struct{}),
		failOn:    make(map[string]error),
		drivers:   make(map[provider.Provider][]*Driver),
		inFlight:  make(map[provider.Provider]int),
		maxFlight: make(map[provider.Provider]int),
	}
}

// SetReply replaces the reply function.
func (f *Factory) SetReply(fn ReplyFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = fn
}

// FailOpen queues errors returned by the next Open calls for p, one per call.
func (f *Factory) FailOpen(p provider.Provider, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs[p] = append(f.openErrs[p], errs...)
}

// SetOpenDelay makes every Open take at least d.
func (f *Factory) SetOpenDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openDelay = d
}

// SetDelay makes every Submit for p take d, or until its context is done.
func (f *Factory) SetDelay(p provider.Provider, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[p] = d
}

// Gate makes Submit calls for p block until the returned channel is closed
// or the call's context is done.
func (f *Factory) Gate(p provider.Provider) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[p] = ch
	return ch
}

// FailOn makes any Submit whose prompt equals text return err.
func (f *Factory) FailOn(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[text] = err
}

// Open implements driver.Factory.
func (f *Factory) Open(ctx context.Context, p provider.Provider) (driver.Driver, error) {
	f.mu.Lock()
	delay := f.openDelay
	var openErr error
	if errs := f.openErrs[p]; len(errs) > 0 {
		openErr = errs[0]
		f.openErrs[p] = errs[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, driver.Timeout(p, "open", ctx.Err())
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	d := &Driver{factory: f, provider: p}
	f.mu.Lock()
	f.drivers[p] = append(f.drivers[p], d)
	f.mu.Unlock()
	return d, nil
}

// Opens returns how many drivers were successfully opened for p.
func (f *Factory) Opens(p provider.Provider) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers[p])
}

// Drivers returns the drivers opened for p, oldest first.
func (f *Factory) Drivers(p provider.Provider) []*Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Driver, len(f.drivers[p]))
	copy(out, f.drivers[p])
	return out
}

// Overlaps returns how many Submit calls started while another Submit for the
// same provider was still running.
func (f *Factory) Overlaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlaps
}

// MaxInFlight returns the highest number of concurrent Submit calls seen for p.
func (f *Factory) MaxInFlight(p provider.Provider) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight[p]
}

func (f *Factory) enter(p provider.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[p]++
	if f.inFlight[p] > 1 {
		f.overlaps++
	}
	if f.inFlight[p] > f.maxFlight[p] {
		f.maxFlight[p] = f.inFlight[p]
	}
}

func (f *Factory) leave(p provider.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[p]--
}

// Driver is the fake driver.Driver handed out by Factory.
type Driver struct {
	factory  *Factory
	provider provider.Provider

	mu      sync.Mutex
	prompts []string
	closed  bool
}

// Submit implements driver.Driver.
func (d *Driver) Submit(ctx context.Context, text string) (string, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", driver.Crash(d.provider, "driver closed", nil)
	}
	d.prompts = append(d.prompts, text)
	d.mu.Unlock()

	f := d.factory
	f.enter(d.provider)
	defer f.leave(d.provider)

	f.mu.Lock()
	delay := f.delays[d.provider]
	gate := f.gates[d.provider]
	failErr := f.failOn[text]
	reply := f.reply
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", driver.Timeout(d.provider, "waiting for reply", ctx.Err())
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", driver.Timeout(d.provider, "waiting for reply", ctx.Err())
		}
	}
	if failErr != nil {
		return "", failErr
	}
	return reply(d.provider, text)
}

// Close implements driver.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Prompts returns every prompt submitted to this driver.
func (d *Driver) Prompts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.prompts))
	copy(out, d.prompts)
	return out
}
