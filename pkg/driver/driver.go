// Package driver describes the capability a Session needs from an automation backend.
//
// A Driver performs one request/response interaction at a time against a provider's
// chat interface. Implementations may fail mid-operation; failures are reported as
// *Error values whose Kind tells the caller how the session should react.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/llmsession/pkg/provider"
)

// Driver is the handle a Session owns for exactly one provider.
// Submit is never called concurrently on the same Driver.
type Driver interface {
	// Submit sends text into the live conversation and returns the reply.
	// Implementations must return once ctx is done.
	Submit(ctx context.Context, text string) (string, error)
	// Close releases the underlying automation resource.
	Close() error
}

// Factory opens a fresh Driver for a provider. Opening may reuse persisted
// authentication and can fail with a LoginRequired error.
type Factory interface {
	Open(ctx context.Context, p provider.Provider) (Driver, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, p provider.Provider) (Driver, error)

func (f FactoryFunc) Open(ctx context.Context, p provider.Provider) (Driver, error) {
	return f(ctx, p)
}

// Kind classifies a driver failure.
type Kind string

const (
	KindUnknown       Kind = "UNKNOWN"
	KindTimeout       Kind = "TIMEOUT"
	KindCrashDetected Kind = "CRASH_DETECTED"
	KindLoginRequired Kind = "LOGIN_REQUIRED"
)

// Sentinels for errors.Is matching against *Error values of the same Kind.
var (
	ErrTimeout       = errors.New("driver timeout")
	ErrCrashDetected = errors.New("driver crash detected")
	ErrLoginRequired = errors.New("driver login required")
)

// Error is a classified driver failure.
type Error struct {
	Kind     Kind
	Provider provider.Provider
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrCrashDetected:
		return e.Kind == KindCrashDetected
	case ErrLoginRequired:
		return e.Kind == KindLoginRequired
	}
	return false
}

// Timeout builds a KindTimeout error.
func Timeout(p provider.Provider, msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Provider: p, Message: msg, Err: err}
}

// Crash builds a KindCrashDetected error.
func Crash(p provider.Provider, msg string, err error) *Error {
	return &Error{Kind: KindCrashDetected, Provider: p, Message: msg, Err: err}
}

// LoginRequired builds a KindLoginRequired error.
func LoginRequired(p provider.Provider, msg string, err error) *Error {
	return &Error{Kind: KindLoginRequired, Provider: p, Message: msg, Err: err}
}

// KindOf reports how err should be treated. Context deadline expiry counts as a
// timeout; anything unclassified is KindUnknown. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
