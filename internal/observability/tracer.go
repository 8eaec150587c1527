package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds a TracerProvider sampling every span — the
// gateway's request volume is orchestrated, not firehose, so head-based
// sampling isn't needed at this layer. Callers that want spans shipped
// somewhere register a SpanProcessor/exporter on the returned
// *sdktrace.TracerProvider before the first request; with none
// registered, spans are built and discarded, which still drives local
// pprof/trace tooling for free.
func NewTracerProvider(serviceName, version string) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
}

// Tracer returns a named Tracer from tp, or a nil Tracer if tp is nil —
// Publisher treats a nil tracer as "tracing disabled" rather than
// panicking, so callers can wire this before any exporter exists.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		return nil
	}
	return tp.Tracer(tracerName)
}
