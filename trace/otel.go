package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTelExporter forwards finished traces to an OpenTelemetry tracer. The
// recorded trace becomes a root span and each recorded span a child,
// preserving the original timestamps.
//
// Usage:
//
//	exporter := trace.NewOTelExporter(otel.Tracer("floworc"))
//	collector.OnFinish(exporter.Export)
type OTelExporter struct {
	tracer oteltrace.Tracer
}

// NewOTelExporter creates an exporter backed by the given tracer.
func NewOTelExporter(tracer oteltrace.Tracer) *OTelExporter {
	return &OTelExporter{tracer: tracer}
}

// Export emits one OTel span per recorded span under a root span for the
// trace. Suitable as a Collector finish hook.
func (e *OTelExporter) Export(tr *Trace, spans []*Span) {
	ctx, root := e.tracer.Start(context.Background(), tr.Name,
		oteltrace.WithTimestamp(tr.StartedAt))
	root.SetAttributes(
		attribute.String("floworc.trace_id", tr.TraceID),
		attribute.Int("floworc.span_count", tr.SpanCount),
		attribute.Int("floworc.input_tokens", tr.TotalInputTokens),
		attribute.Int("floworc.output_tokens", tr.TotalOutputTokens),
		attribute.Float64("floworc.cost_usd", tr.TotalCostUSD),
		attribute.Int64("floworc.latency_ms", tr.TotalLatencyMS),
	)
	if tr.Status == StatusError {
		root.SetStatus(codes.Error, "trace failed")
	}

	for _, s := range spans {
		e.exportSpan(ctx, s)
	}

	if tr.EndedAt != nil {
		root.End(oteltrace.WithTimestamp(*tr.EndedAt))
	} else {
		root.End()
	}
}

func (e *OTelExporter) exportSpan(ctx context.Context, s *Span) {
	_, span := e.tracer.Start(ctx, s.Name, oteltrace.WithTimestamp(s.StartedAt))
	span.SetAttributes(
		attribute.String("floworc.span_id", s.SpanID),
		attribute.String("floworc.span_type", string(s.Type)),
	)
	if s.ParentID != "" {
		span.SetAttributes(attribute.String("floworc.parent_id", s.ParentID))
	}
	if s.InputTokens > 0 || s.OutputTokens > 0 {
		span.SetAttributes(
			attribute.Int("floworc.input_tokens", s.InputTokens),
			attribute.Int("floworc.output_tokens", s.OutputTokens),
		)
	}
	if s.CostUSD > 0 {
		span.SetAttributes(attribute.Float64("floworc.cost_usd", s.CostUSD))
	}
	if s.Error != "" {
		span.SetStatus(codes.Error, s.Error)
		span.RecordError(fmt.Errorf("%s", s.Error))
	}
	if s.EndedAt != nil {
		span.End(oteltrace.WithTimestamp(*s.EndedAt))
	} else {
		span.End()
	}
}

// Flush forces export of pending spans from the global tracer provider.
// Call before shutdown so batched spans reach the backend.
func (e *OTelExporter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
