// Package orchestrator serializes prompt jobs per provider and drives each
// provider's browser session.
//
// Every enabled provider gets one Session, one work queue and one worker
// goroutine for the lifetime of the Orchestrator. Only that worker ever
// touches the provider's driver, so prompts for one provider never overlap
// while different providers progress in parallel.
//
// A job is either a single prompt or a chain of prompts. Both run through the
// ChainExecutor; a single prompt is a chain of length one. A failing step stops
// the chain and the outcome carries a *StepError with the results obtained so far.
//
// Sessions that are crashed or closed are re-initialized by their worker before
// the next job runs. Reset never interrupts a running job.
package orchestrator
