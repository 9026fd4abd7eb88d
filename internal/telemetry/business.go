package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/irfndi/crypto-insight-go/services"

// BusinessTracer provides spans for aggregation cycles and provider calls.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a tracer bound to the global tracer provider.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: otel.Tracer(tracerName)}
}

// TraceAggregation starts the span of one aggregation cycle.
func (bt *BusinessTracer) TraceAggregation(ctx context.Context, kind, symbol string, providers int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "aggregate."+kind,
		trace.WithAttributes(
			attribute.String("crypto.symbol", symbol),
			attribute.Int("providers.count", providers),
		))
}

// RecordAggregationResult annotates an aggregation span with its outcome.
func (bt *BusinessTracer) RecordAggregationResult(span trace.Span, result AggregationResult) {
	span.SetAttributes(
		attribute.Int("providers.succeeded", result.Succeeded),
		attribute.Int("providers.failed", result.Failed),
		attribute.Bool("degraded", result.Degraded),
		attribute.Bool("timed_out", result.TimedOut),
		attribute.Int64("duration_ms", result.Duration.Milliseconds()),
	)
	if result.Degraded {
		span.SetStatus(codes.Error, "no provider succeeded")
	}
}

// TraceProviderCall starts the span of one provider request.
func (bt *BusinessTracer) TraceProviderCall(ctx context.Context, provider, operation string, attempt int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "provider."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.Int("attempt", attempt),
		))
}

// RecordProviderError marks a provider span as failed. A nil error is ignored.
func (bt *BusinessTracer) RecordProviderError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		span.SetAttributes(attribute.Bool("timeout", true))
	}
}

// AggregationResult summarises one aggregation cycle for tracing.
type AggregationResult struct {
	Succeeded int
	Failed    int
	Degraded  bool
	TimedOut  bool
	Duration  time.Duration
}
