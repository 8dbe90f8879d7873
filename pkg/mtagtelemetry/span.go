package mtagtelemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/malloctag/mtag"

// StartCollectSpan opens a span around one of the engine's cold-path
// report operations (CollectStats, WriteStats, WriteSnapshotIfNeeded),
// tagged with the counters the resulting document will contain. When
// telemetry was never enabled via Init, otel's default TracerProvider is
// a no-op, so this costs a few no-op calls rather than a live span — the
// fast path (TrackedMalloc/TrackedFree) never calls this at all.
func StartCollectSpan(ctx context.Context, op string, treeCount int, grandTotalBytes uint64, format string) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op, oteltrace.WithAttributes(
		attribute.Int("mtag.tree_count", treeCount),
		attribute.Int64("mtag.grand_total_bytes", int64(grandTotalBytes)),
		attribute.String("mtag.format", format),
	))
}

// RecordSpanError marks span as having failed with err, a no-op if err is
// nil. Kept separate from StartCollectSpan so callers can defer it over
// a named return error without restructuring their control flow.
func RecordSpanError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
