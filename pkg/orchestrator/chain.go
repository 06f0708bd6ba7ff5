package orchestrator

import (
	"context"
	"time"

	"github.com/harun/llmsession/internal/observability"
	"github.com/harun/llmsession/internal/tracing"
	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ChainExecutor runs an ordered list of prompts against one driver. Context
// between steps lives in the provider's conversation, not here.
type ChainExecutor struct {
	stepTimeout time.Duration
	logger      zerolog.Logger
}

// NewChainExecutor returns an executor that bounds every step by stepTimeout.
// A zero timeout leaves steps bounded only by the caller's context.
func NewChainExecutor(stepTimeout time.Duration, logger zerolog.Logger) *ChainExecutor {
	return &ChainExecutor{stepTimeout: stepTimeout, logger: logger}
}

// Run submits prompts in order and returns one result per prompt. The first
// failure stops the chain and is returned as a *StepError holding the
// results collected before it.
func (c *ChainExecutor) Run(ctx context.Context, p provider.Provider, drv driver.Driver, prompts []string) ([]string, error) {
	logger := tracing.LoggerFromContext(ctx, c.logger)
	results := make([]string, 0, len(prompts))

	for i, prompt := range prompts {
		out, err := c.step(ctx, p, drv, i, prompt)
		if err != nil {
			kind := driver.KindOf(err)
			logger.Warn().
				Err(err).
				Int("step", i).
				Int("steps", len(prompts)).
				Str("kind", string(kind)).
				Msg("Chain aborted")
			return results, &StepError{
				Index:   i,
				Kind:    kind,
				Partial: append([]string(nil), results...),
				Err:     err,
			}
		}
		results = append(results, out)

		logger.Debug().
			Int("step", i).
			Int("prompt_len", len(prompt)).
			Int("result_len", len(out)).
			Msg("Chain step completed")
	}
	return results, nil
}

func (c *ChainExecutor) step(ctx context.Context, p provider.Provider, drv driver.Driver, index int, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llmsession.orchestrator", "orchestrator.step",
		attribute.String("provider", p.String()),
		attribute.Int("step", index),
	)
	defer span.End()

	if c.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := drv.Submit(ctx, prompt)
	observability.RecordStep(p.String(), time.Since(start), string(driver.KindOf(err)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}
