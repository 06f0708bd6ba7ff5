package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/llmsession/pkg/provider"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Mode tells whether a job was submitted as one prompt or as a chain.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeChain  Mode = "chain"
)

// Payload is the prompt content of a job.
type Payload struct {
	Mode    Mode
	Prompts []string
}

// Single builds a one-prompt payload.
func Single(prompt string) Payload {
	return Payload{Mode: ModeSingle, Prompts: []string{prompt}}
}

// Chain builds a chain payload. Prompts run in order against one session.
func Chain(prompts ...string) Payload {
	return Payload{Mode: ModeChain, Prompts: append([]string(nil), prompts...)}
}

// Validate rejects empty payloads and empty prompts.
func (p Payload) Validate() error {
	switch p.Mode {
	case ModeSingle:
		if len(p.Prompts) != 1 {
			return fmt.Errorf("%w: single mode takes exactly one prompt", ErrValidation)
		}
	case ModeChain:
		if len(p.Prompts) == 0 {
			return fmt.Errorf("%w: prompt list is empty", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrValidation, p.Mode)
	}
	for i, prompt := range p.Prompts {
		if strings.TrimSpace(prompt) == "" {
			if p.Mode == ModeSingle {
				return fmt.Errorf("%w: prompt is empty", ErrValidation)
			}
			return fmt.Errorf("%w: prompt %d is empty", ErrValidation, i)
		}
	}
	return nil
}

// Job is one submitted unit of work.
type Job struct {
	ID          string
	Provider    provider.Provider
	Payload     Payload
	SubmittedAt time.Time

	ctx     context.Context
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newJob(ctx context.Context, p provider.Provider, payload Payload) *Job {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return &Job{
		ID:          id,
		Provider:    p,
		Payload:     payload,
		SubmittedAt: time.Now(),
		ctx:         ctx,
		done:        make(chan struct{}),
	}
}

// finish delivers the outcome once; later calls are ignored.
func (j *Job) finish(outcome Outcome) bool {
	delivered := false
	j.once.Do(func() {
		j.outcome = outcome
		close(j.done)
		delivered = true
	})
	return delivered
}

// Outcome is the final result of a job.
type Outcome struct {
	JobID       string
	Provider    provider.Provider
	Mode        Mode
	Results     []string
	SessionID   string
	Err         error
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Result returns the single-mode result, or the last chain result.
func (o Outcome) Result() string {
	if len(o.Results) == 0 {
		return ""
	}
	return o.Results[len(o.Results)-1]
}

// Duration is the time from submission to delivery.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.SubmittedAt)
}

// Handle lets a caller wait for a submitted job.
type Handle struct {
	job *Job
}

// ID returns the job id.
func (h *Handle) ID() string {
	return h.job.ID
}

// Done is closed once the outcome is available.
func (h *Handle) Done() <-chan struct{} {
	return h.job.done
}

// Wait blocks until the outcome is delivered or ctx is done. The job keeps
// running when ctx ends first.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.job.done:
		return h.job.outcome, h.job.outcome.Err
	case <-ctx.Done():
		return Outcome{JobID: h.job.ID, Provider: h.job.Provider, Mode: h.job.Payload.Mode}, ctx.Err()
	}
}
