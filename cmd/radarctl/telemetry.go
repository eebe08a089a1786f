package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// telemetryEnabled wires radarctl's --telemetry flag: without it, every
// package-level otel.Tracer/otel.Meter call (internal/eventstore's
// sqliteTracer/sqliteMetrics, internal/pipeline's pipelineMetrics)
// forwards to the no-op global providers, same as the teacher's
// storage/dolt package does by default. Passing --telemetry installs
// real stdout-exporting providers before any subcommand runs.
var telemetryEnabled bool

// setupTelemetry installs a real TracerProvider/MeterProvider when
// telemetryEnabled is set, returning a shutdown func to flush on exit.
// With telemetryEnabled false it is a no-op: callers still own the
// global delegating providers otel installs by default.
func setupTelemetry() (func(context.Context) error, error) {
	if !telemetryEnabled {
		return func(context.Context) error { return nil }, nil
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: building trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: building metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}
