// Package telemetry holds the OpenTelemetry tracer and instruments used by
// the indexing pipeline. Without a configured provider every call is a no-op.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dshills/codegraph"

var meter = otel.Meter(instrumentationName)

var (
	filesIndexed  metric.Int64Counter
	runDuration   metric.Float64Histogram
	resolvedEdges metric.Int64Counter
	droppedEvents metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesIndexed, err = meter.Int64Counter(
			"codegraph_files_indexed_total",
			metric.WithDescription("Files parsed and flushed to the store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"codegraph_run_duration_seconds",
			metric.WithDescription("Duration of incremental indexing runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolvedEdges, err = meter.Int64Counter(
			"codegraph_resolved_edges_total",
			metric.WithDescription("Edges resolved by the resolution engine"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedEvents, err = meter.Int64Counter(
			"codegraph_dropped_events_total",
			metric.WithDescription("Progress events dropped by a full sink"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// StartSpan starts a span named name with the given attributes. The tracer
// is looked up per call so a provider installed later by Setup is used.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if any) and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordFilesIndexed adds n to the indexed file counter
func RecordFilesIndexed(ctx context.Context, n int) {
	if n <= 0 || initMetrics() != nil {
		return
	}
	filesIndexed.Add(ctx, int64(n))
}

// RecordRun records the duration of one run. outcome is "complete",
// "cancelled" or "failed".
func RecordRun(ctx context.Context, d time.Duration, outcome string) {
	if initMetrics() != nil {
		return
	}
	runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordResolved adds n resolved edges of the given kind
func RecordResolved(ctx context.Context, kind string, n int) {
	if n <= 0 || initMetrics() != nil {
		return
	}
	resolvedEdges.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDroppedEvents adds n dropped events
func RecordDroppedEvents(ctx context.Context, n int64) {
	if n <= 0 || initMetrics() != nil {
		return
	}
	droppedEvents.Add(ctx, n)
}
