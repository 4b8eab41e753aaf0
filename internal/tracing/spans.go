package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func StartIngestSpan(ctx context.Context, userID int64, runID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "ingest.cycle")
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("ingest.run_id", runID),
	)
	return ctx, span
}

func StartFetchSpan(ctx context.Context, dataType, day string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "source.fetch."+dataType,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("telemetry.data_type", dataType),
		attribute.String("telemetry.day", day),
	)
	return ctx, span
}

func StartJobSpan(ctx context.Context, jobID, userID int64) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "job.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(
		attribute.Int64("job.id", jobID),
		attribute.Int64("user.id", userID),
	)
	return ctx, span
}

func StartWindowSpan(ctx context.Context, timeRange string, days int) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "analytics.window."+timeRange)
	span.SetAttributes(
		attribute.String("analytics.time_range", timeRange),
		attribute.Int("analytics.window_days", days),
	)
	return ctx, span
}
