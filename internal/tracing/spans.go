package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartCompareSpan starts the parent span of one comparison run.
func StartCompareSpan(ctx context.Context, runID string, models int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "compare.run",
		trace.WithAttributes(
			attribute.String("compare.run_id", runID),
			attribute.Int("compare.models", models),
		),
	)
}

// StartModelSpan starts the span for one model's request within a run.
func StartModelSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "compare.model",
		trace.WithAttributes(attribute.String("model.id", model)),
	)
}

// StartProviderSpan starts a client span around one HTTP attempt to the
// provider.
func StartProviderSpan(ctx context.Context, url, model string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provider.chat_completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.url", url),
			attribute.String("model.id", model),
			attribute.Int("provider.attempt", attempt),
		),
	)
}

// InjectHeaders writes the current trace context (traceparent, tracestate)
// into the outgoing request headers.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetUsageAttributes records token usage and cost on the current span.
// cost is the formatted price, "N/A" when unpriced.
func SetUsageAttributes(ctx context.Context, promptTokens, completionTokens int, cost string) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("usage.prompt_tokens", promptTokens),
		attribute.Int("usage.completion_tokens", completionTokens),
		attribute.String("usage.cost", cost),
	)
}

// SetFailedCount records how many models in a run returned errors.
func SetFailedCount(ctx context.Context, failed int) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("compare.failed", failed))
}

// RecordError records err on the current span and marks it failed. A nil
// err is ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
