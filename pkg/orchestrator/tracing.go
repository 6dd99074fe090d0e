package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "duplexcall/orchestrator"

// InitTracing installs a process-wide TracerProvider tagged with
// serviceName. Spans are sampled at sampleRatio and, with no exporter
// configured here, are simply dropped after any registered span processors
// run -- callers that want spans shipped somewhere attach an exporter-backed
// processor via tp.RegisterSpanProcessor before traffic starts.
func InitTracing(ctx context.Context, serviceName string, sampleRatio float64) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartSpan starts a span named spanName under the given context, using the
// orchestrator's tracer.
func StartSpan(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName)
}
