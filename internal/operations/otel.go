package operations

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"circflow/internal/reconcile"
)

const TracerName = "circflow.operations"

// PassTracer provides OpenTelemetry spans for pass and stage
// execution.
type PassTracer struct {
	tracer trace.Tracer
}

// NewPassTracer creates a tracer against the global provider.
func NewPassTracer() *PassTracer {
	return &PassTracer{tracer: otel.Tracer(TracerName)}
}

// TracePass opens the span covering an entire pass.
func (pt *PassTracer) TracePass(ctx context.Context, passID string, stageCount int) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pass.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pass.id", passID),
			attribute.Int("pass.stage_count", stageCount),
		),
	)
}

// TraceStage opens the span covering one stage run.
func (pt *PassTracer) TraceStage(ctx context.Context, passID, stageID string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, fmt.Sprintf("pass.stage.%s", stageID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pass.id", passID),
			attribute.String("stage.id", stageID),
		),
	)
}

// RecordStageResult attaches a finished stage report to its span.
func (pt *PassTracer) RecordStageResult(span trace.Span, report reconcile.StageReport) {
	span.SetAttributes(
		attribute.String("stage.status", string(report.Status)),
		attribute.Float64("stage.duration_seconds", report.Duration.Seconds()),
		attribute.Int("stage.rows_read", report.RowsRead),
		attribute.Int("stage.rows_written", report.RowsWritten),
		attribute.Int("stage.findings", len(report.Findings)),
	)
	if report.Status == reconcile.StatusFailed {
		span.SetStatus(codes.Error, report.Error)
		return
	}
	span.SetStatus(codes.Ok, "")
}
