package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options configures Setup
type Options struct {
	// Traces exports spans as JSON lines to Writer
	Traces bool
	// Metrics exports the pipeline instruments as JSON to Writer. They are
	// collected when the process shuts down.
	Metrics bool
	Writer  io.Writer
}

// Setup installs global tracer and meter providers according to opts. The
// returned function flushes and shuts down whatever was installed.
func Setup(opts Options) (func(context.Context) error, error) {
	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	if opts.Traces {
		traceOpts := []stdouttrace.Option{}
		if opts.Writer != nil {
			traceOpts = append(traceOpts, stdouttrace.WithWriter(opts.Writer))
		}
		exporter, err := stdouttrace.New(traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(provider)
		shutdowns = append(shutdowns, provider.Shutdown)
	}

	if opts.Metrics {
		metricOpts := []stdoutmetric.Option{}
		if opts.Writer != nil {
			metricOpts = append(metricOpts, stdoutmetric.WithWriter(opts.Writer))
		}
		exporter, err := stdoutmetric.New(metricOpts...)
		if err != nil {
			_ = shutdown(context.Background())
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
		otel.SetMeterProvider(provider)
		shutdowns = append(shutdowns, provider.Shutdown)
	}

	return shutdown, nil
}
