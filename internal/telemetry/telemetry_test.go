package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "indexer.run", attribute.Int("files", 3))
	EndSpan(span, errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "indexer.run", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int("files", 3))
	assert.Len(t, ended[0].Events(), 1)
}

func TestRecordMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx := context.Background()
	RecordFilesIndexed(ctx, 4)
	RecordFilesIndexed(ctx, 0)
	RecordResolved(ctx, "CALL", 2)
	RecordDroppedEvents(ctx, 1)
	RecordRun(ctx, 1500*time.Millisecond, "complete")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name == "codegraph_files_indexed_total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(4), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, names["codegraph_files_indexed_total"])
	assert.True(t, names["codegraph_resolved_edges_total"])
	assert.True(t, names["codegraph_run_duration_seconds"])
}

func TestSetup(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		shutdown, err := Setup(Options{})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout traces", func(t *testing.T) {
		var buf bytes.Buffer
		shutdown, err := Setup(Options{Traces: true, Writer: &buf})
		require.NoError(t, err)

		_, span := StartSpan(context.Background(), "setup.test")
		span.End()
		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), "setup.test")
	})

	t.Run("stdout metrics", func(t *testing.T) {
		var buf bytes.Buffer
		shutdown, err := Setup(Options{Metrics: true, Writer: &buf})
		require.NoError(t, err)

		_, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
		require.True(t, ok)

		counter, err := otel.Meter("setup.test").Int64Counter("setup_test_total")
		require.NoError(t, err)
		counter.Add(context.Background(), 3)
		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), "setup_test_total")
	})
}
