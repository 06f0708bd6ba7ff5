package orchestrator

import (
	"errors"
	"fmt"

	"github.com/harun/llmsession/pkg/driver"
)

var (
	// ErrInvalidProvider is returned for provider ids outside the enabled set.
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrValidation is returned for a missing or empty prompt payload.
	ErrValidation = errors.New("validation error")
	// ErrSessionNotReady is returned when a session could not be initialized
	// within the configured number of attempts.
	ErrSessionNotReady = errors.New("session not ready")
	// ErrClosed is returned once the orchestrator is shutting down.
	ErrClosed = errors.New("orchestrator closed")
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("orchestrator not started")
)

// StepError reports the chain step that failed together with the results of
// the steps before it.
type StepError struct {
	Index   int
	Kind    driver.Kind
	Partial []string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d failed (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err for logs, metrics and the ledger.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidProvider):
		return "INVALID_PROVIDER"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrClosed):
		return "CLOSED"
	}
	if kind := driver.KindOf(err); kind != driver.KindUnknown {
		return string(kind)
	}
	if errors.Is(err, ErrSessionNotReady) {
		return "SESSION_NOT_READY"
	}
	return string(driver.KindUnknown)
}
