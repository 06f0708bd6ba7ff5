package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options controls how spans are exported.
type Options struct {
	ServiceName string
	// Exporter is "none" (spans are sampled but dropped) or "stdout".
	Exporter string
	// Writer receives stdout exporter output; defaults to os.Stdout.
	Writer io.Writer
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry initializes a process-wide tracer provider without an exporter.
// It is safe to call multiple times.
func InitOpenTelemetry(serviceName string) error {
	return Init(Options{ServiceName: serviceName, Exporter: "none"})
}

// Init installs the global tracer provider once; later calls return the first result.
func Init(opts Options) error {
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(opts.ServiceName),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tpOpts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		}

		switch opts.Exporter {
		case "", "none":
		case "stdout":
			exporterOpts := []stdouttrace.Option{}
			if opts.Writer != nil {
				exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
			}
			exp, err := stdouttrace.New(exporterOpts...)
			if err != nil {
				providerErr = fmt.Errorf("failed to create stdout exporter: %w", err)
				return
			}
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
		default:
			providerErr = fmt.Errorf("unknown trace exporter %q", opts.Exporter)
			return
		}

		tp := sdktrace.NewTracerProvider(tpOpts...)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and makes sure the context carries a trace_id for logging.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
