// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Version is reported as service.version on every exported span and metric.
var Version = "1.0.0"

// Config selects where spans and metrics go.
type Config struct {
	ServiceName string `yaml:"service_name" json:"service_name"`

	// TraceExporter is one of "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`

	// MetricExporter is one of "none", "stdout" or "prometheus".
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`

	// OTLPEndpoint is host:port for a plaintext collector, or an https:// URL
	// for a TLS one.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// DefaultConfig returns a config with both exporters off. The standard
// OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER and OTEL_EXPORTER_OTLP_ENDPOINT
// variables override the defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "segtree",
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", "none"),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", "none"),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != "none"
}

// Init installs the global TracerProvider and MeterProvider chosen by cfg.
//
// Description:
//
//	Exporters set to "none" (or left empty) install nothing, so the global
//	no-op providers stay in place. On failure every provider Init already
//	started is shut down before the error is returned.
//
// Outputs:
//
//	shutdown - Flushes and stops everything Init started. Never nil on success.
//	error - ErrNilContext, or a wrapped ErrUnknownExporter / exporter error.
//
// Thread Safety: Call once at process startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var stops []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, stop := range stops {
			errs = append(errs, stop(ctx))
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", Version),
	)

	if enabled(cfg.TraceExporter) {
		exporter, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		tp := trace.NewTracerProvider(trace.WithBatcher(exporter), trace.WithResource(res))
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	if enabled(cfg.MetricExporter) {
		reader, err := newMetricReader(cfg)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("init meter: %w", err), shutdown(ctx))
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
		if cfg.MetricExporter == "prometheus" {
			stops = append(stops, resetPrometheusRegistry)
		}
	}

	return shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if strings.HasPrefix(cfg.OTLPEndpoint, "https://") {
			return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(cfg.OTLPEndpoint))
		}
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
}

func newMetricReader(cfg Config) (metric.Reader, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		return newPrometheusReader()
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewPeriodicReader(exporter), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
