package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds tracing context fields to a zerolog logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.Provider != "" {
		lc = lc.Str("provider", tc.Provider)
	}
	if tc.JobID != "" {
		lc = lc.Str("job_id", tc.JobID)
	}
	return lc.Logger()
}

// Detach returns a context that keeps the tracing values and span of ctx but is
// never cancelled by it. Jobs use it so that a caller giving up does not abort
// work the worker has already started.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
