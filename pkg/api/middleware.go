package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/harun/llmsession/internal/tracing"
)

// requestContext attaches a trace id and the chi request id to the request context.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.NewRequestContext(r.Context())
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = tracing.WithRequestID(ctx, reqID)
		}
		w.Header().Set("X-Trace-Id", tracing.GetTraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		event := logger.Info()
		if ww.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		} else if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics" {
			event = logger.Debug()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
