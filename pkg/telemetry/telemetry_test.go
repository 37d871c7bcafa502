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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig()

	if cfg.ServiceName != "segtree" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "segtree")
	}
	if cfg.TraceExporter != "none" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "none")
	}
	if cfg.MetricExporter != "none" {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, "none")
	}
	if cfg.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.OTLPEndpoint, "localhost:4317")
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "prometheus")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector.example:4317")

	cfg := DefaultConfig()

	if cfg.TraceExporter != "stdout" {
		t.Errorf("TraceExporter = %q, want stdout", cfg.TraceExporter)
	}
	if cfg.MetricExporter != "prometheus" {
		t.Errorf("MetricExporter = %q, want prometheus", cfg.MetricExporter)
	}
	if cfg.OTLPEndpoint != "https://collector.example:4317" {
		t.Errorf("OTLPEndpoint = %q, want https://collector.example:4317", cfg.OTLPEndpoint)
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil ctx is the case under test
	_, err := Init(nil, DefaultConfig())
	if err != ErrNilContext {
		t.Errorf("Init(nil, cfg) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_NoopExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = ""

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_StdoutTraceExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"trace", func(c *Config) { c.TraceExporter = "zipkin" }},
		{"metric", func(c *Config) { c.MetricExporter = "statsd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = "none"
			cfg.MetricExporter = "none"
			tt.mutate(&cfg)

			_, err := Init(context.Background(), cfg)
			if !errors.Is(err, ErrUnknownExporter) {
				t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	for exporter, want := range map[string]bool{"": false, "none": false, "stdout": true, "otlp": true} {
		if got := enabled(exporter); got != want {
			t.Errorf("enabled(%q) = %v, want %v", exporter, got, want)
		}
	}
}

func TestInit_FailedMeterLeavesNoShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "statsd"

	shutdown, err := Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}
	if shutdown != nil {
		t.Error("shutdown should be nil when Init fails")
	}
}

func resetPrometheus() {
	_ = resetPrometheusRegistry(context.Background())
}

func TestWriteMetrics_Disabled(t *testing.T) {
	resetPrometheus()

	if Gatherer() != nil {
		t.Fatal("Gatherer() should be nil before the prometheus exporter is initialized")
	}
	err := WriteMetrics(&bytes.Buffer{}, "")
	if !errors.Is(err, ErrPrometheusDisabled) {
		t.Errorf("WriteMetrics() error = %v, want %v", err, ErrPrometheusDisabled)
	}
}

func TestInit_PrometheusExporter(t *testing.T) {
	resetPrometheus()

	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	meter := otel.Meter("telemetry.test")
	counter, err := meter.Int64Counter("segtree_test_ops_total", metric.WithDescription("test counter"))
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	other, err := meter.Int64Counter("unrelated_ops_total")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 3)
	other.Add(context.Background(), 1)

	var buf bytes.Buffer
	if err := WriteMetrics(&buf, "segtree_"); err != nil {
		t.Fatalf("WriteMetrics() error = %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "segtree_test_ops_total") {
		t.Errorf("output missing segtree_test_ops_total:\n%s", out)
	}
	if strings.Contains(out, "unrelated_ops_total") {
		t.Errorf("prefix filter let unrelated_ops_total through:\n%s", out)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if Gatherer() != nil {
		t.Error("Gatherer() should be nil after shutdown")
	}
}
