// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package segtree

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "aleutian.segtree"

// Metrics for segment tree operations.
//
// Instruments are resolved lazily from the global MeterProvider so that
// telemetry.Init (or a test provider) installed before first use is honoured.
var (
	buildLatency     metric.Float64Histogram
	buildTotal       metric.Int64Counter
	queryTotal       metric.Int64Counter
	updateTotal      metric.Int64Counter
	updateLevels     metric.Int64Histogram
	validationErrors metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		var err error

		buildLatency, err = meter.Float64Histogram(
			"segtree_build_duration_seconds",
			metric.WithDescription("Duration of segment tree construction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"segtree_build_total",
			metric.WithDescription("Total number of segment tree constructions and rebuilds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryTotal, err = meter.Int64Counter(
			"segtree_query_total",
			metric.WithDescription("Total number of range queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		updateTotal, err = meter.Int64Counter(
			"segtree_update_total",
			metric.WithDescription("Total number of point updates"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		updateLevels, err = meter.Int64Histogram(
			"segtree_update_levels",
			metric.WithDescription("Ancestors recomputed per update before the early exit"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		validationErrors, err = meter.Int64Counter(
			"segtree_validation_errors_total",
			metric.WithDescription("Invariant violations found by Validate"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a construction or rebuild.
func recordBuildMetrics(ctx context.Context, agg string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("aggregate", agg),
		attribute.Bool("success", success),
	)
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
}

// recordQueryMetrics records a query outcome.
func recordQueryMetrics(ctx context.Context, agg string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	queryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate", agg),
		attribute.Bool("success", success),
	))
}

// recordUpdateMetrics records an update outcome and how far it climbed.
func recordUpdateMetrics(ctx context.Context, agg string, levels int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("aggregate", agg),
		attribute.Bool("success", success),
	)
	updateTotal.Add(ctx, 1, attrs)
	if success {
		updateLevels.Record(ctx, int64(levels), metric.WithAttributes(attribute.String("aggregate", agg)))
	}
}

// recordValidationError counts a failed Validate call.
func recordValidationError(ctx context.Context, agg string) {
	if err := initMetrics(); err != nil {
		return
	}

	validationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate", agg)))
}
