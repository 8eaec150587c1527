package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/latticeforge/coregate/internal/metrics"
	"github.com/latticeforge/coregate/internal/providers"
)

const tracerName = "github.com/latticeforge/coregate/internal/pipeline"

// Metric name constants, mirrored from the Registry's own conventions so a
// dashboard built against one backend still makes sense against the other.
const (
	metricUsageRequests = "usage_requests_total"
	metricUsageCostUSD  = "usage_cost_usd"
	metricUsageTokens   = "usage_tokens_total"
	metricLatencyMs     = "stage_latency_ms"
	metricRequestsTotal = "publisher_requests_total"
)

// Publisher implements pipeline.Publisher. It forwards every call into an
// injected metrics.Sink (so it never depends on the concrete Prometheus
// Registry), emits an OpenTelemetry span event carrying the same fields,
// and republishes onto a Bus so any in-process subscriber sees one
// consistent feed instead of wiring its own hook into the pipeline. The
// app creates the Bus but nothing outside tests subscribes to it.
type Publisher struct {
	sink   metrics.Sink
	tracer trace.Tracer
	bus    *Bus
	log    *slog.Logger
}

// NewPublisher builds a Publisher. A nil sink or log is replaced with
// metrics.NoopSink{} or slog.Default() respectively. tracer may be nil, in which case span emission is skipped
// entirely (tests run this way rather than standing up an SDK
// TracerProvider). bus may be nil, in which case RecordEvent still logs
// but has no subscribers to notify.
func NewPublisher(sink metrics.Sink, tracer trace.Tracer, bus *Bus, log *slog.Logger) *Publisher {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		sink:   sink,
		tracer: tracer,
		bus:    bus,
		log:    log,
	}
}

// RecordUsage implements pipeline.Publisher.
func (p *Publisher) RecordUsage(tenantID, modelID string, cost providers.Money, usage providers.Usage) {
	p.sink.Inc(metricUsageRequests, tenantID, modelID)
	p.sink.Observe(metricUsageCostUSD, cost.USD, tenantID, modelID)
	p.sink.Observe(metricUsageTokens, float64(usage.InputTokens+usage.OutputTokens), tenantID, modelID)

	if p.tracer != nil {
		_, span := p.tracer.Start(context.Background(), "pipeline.usage")
		span.SetAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("model_id", modelID),
			attribute.Float64("cost_usd", cost.USD),
			attribute.Int("input_tokens", usage.InputTokens),
			attribute.Int("output_tokens", usage.OutputTokens),
		)
		span.End()
	}

	p.publish("usage.recorded", map[string]any{
		"tenant_id":     tenantID,
		"model_id":      modelID,
		"cost_usd":      cost.USD,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	})
}

// RecordLatency implements pipeline.Publisher.
func (p *Publisher) RecordLatency(modelID string, ms int64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	p.sink.Observe(metricLatencyMs, float64(ms), modelID, outcome)
	p.sink.Inc(metricRequestsTotal, modelID, outcome)

	p.log.Debug("request completed",
		slog.String("model_id", modelID),
		slog.Int64("latency_ms", ms),
		slog.Bool("success", success),
	)

	p.publish("request.completed", map[string]any{
		"model_id":   modelID,
		"latency_ms": ms,
		"success":    success,
	})
}

// RecordEvent implements pipeline.Publisher. kind is an arbitrary,
// component-chosen label ("cache.hit", "failover.exhausted",
// "quota.rejected", ...); fields carries whatever detail the caller has.
func (p *Publisher) RecordEvent(kind string, fields map[string]any) {
	p.sink.Inc("event_"+kind+"_total")

	logArgs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		logArgs = append(logArgs, slog.Any(k, v))
	}

	if p.tracer != nil {
		attrs := make([]attribute.KeyValue, 0, len(fields))
		for k, v := range fields {
			attrs = append(attrs, attribute.String(k, toString(v)))
		}
		_, span := p.tracer.Start(context.Background(), "pipeline.event."+kind)
		span.SetAttributes(attrs...)
		span.End()
	}

	p.log.Info("event: "+kind, logArgs...)

	p.publish(EventKind(kind), fields)
}

func (p *Publisher) publish(kind EventKind, fields map[string]any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(Event{Kind: kind, Fields: fields})
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
