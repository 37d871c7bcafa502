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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// The global providers are installed once: instruments bind to the first
// MeterProvider they see.
var (
	metricReader *sdkmetric.ManualReader
	spanRecorder *tracetest.SpanRecorder
)

func TestMain(m *testing.M) {
	metricReader = sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	otel.SetMeterProvider(mp)

	spanRecorder = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)

	code := m.Run()

	_ = tp.Shutdown(context.Background())
	_ = mp.Shutdown(context.Background())
	os.Exit(code)
}

// taggedSum returns a SUM monoid under a unique name so metric assertions
// are not affected by other tests.
func taggedSum(name string) Monoid[int64] {
	m := SumMonoid[int64]()
	m.Name = name
	return m
}

// counterValue sums the data points of an int64 counter matching agg and success.
func counterValue(t *testing.T, name, agg string, success bool) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != instrumentationName {
			continue
		}
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				a, _ := dp.Attributes.Value("aggregate")
				s, _ := dp.Attributes.Value("success")
				if a.AsString() == agg && s.AsBool() == success {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// histogramCount returns the sample count of an int64 histogram for agg.
func histogramCount(t *testing.T, name, agg string) (count uint64, sum int64) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			hist, ok := md.Data.(metricdata.Histogram[int64])
			require.True(t, ok, "%s is not an int64 histogram", name)
			for _, dp := range hist.DataPoints {
				a, _ := dp.Attributes.Value("aggregate")
				if a.AsString() == agg {
					count += dp.Count
					sum += dp.Sum
				}
			}
		}
	}
	return count, sum
}

func TestMetrics_QueryAndUpdate(t *testing.T) {
	ctx := context.Background()
	tree, err := NewWithMonoid(ctx, []int64{1, 2, 3, 4}, taggedSum("METRICS-QU"))
	require.NoError(t, err)

	_, err = tree.Query(ctx, 0, 3)
	require.NoError(t, err)
	_, err = tree.Query(ctx, 0, 1)
	require.NoError(t, err)
	_, err = tree.Query(ctx, 3, 0)
	require.Error(t, err)

	require.NoError(t, tree.Update(ctx, 0, 10))
	require.Error(t, tree.Update(ctx, 9, 10))

	assert.Equal(t, int64(1), counterValue(t, "segtree_build_total", "METRICS-QU", true))
	assert.Equal(t, int64(2), counterValue(t, "segtree_query_total", "METRICS-QU", true))
	assert.Equal(t, int64(1), counterValue(t, "segtree_query_total", "METRICS-QU", false))
	assert.Equal(t, int64(1), counterValue(t, "segtree_update_total", "METRICS-QU", true))
	assert.Equal(t, int64(1), counterValue(t, "segtree_update_total", "METRICS-QU", false))

	// Changing a SUM leaf always climbs to the root: log2(4) = 2 levels.
	count, levels := histogramCount(t, "segtree_update_levels", "METRICS-QU")
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, int64(2), levels)
}

func TestMetrics_FailedBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWithMonoid(ctx, []int64{1}, taggedSum("METRICS-FAIL"), WithLogger(quietLogger()))
	require.Error(t, err)

	assert.Equal(t, int64(1), counterValue(t, "segtree_build_total", "METRICS-FAIL", false))
	assert.Equal(t, int64(0), counterValue(t, "segtree_build_total", "METRICS-FAIL", true))
}

func TestMetrics_ValidationErrors(t *testing.T) {
	tree, err := NewWithMonoid(context.Background(), []int64{1, 2}, taggedSum("METRICS-VAL"), WithLogger(quietLogger()))
	require.NoError(t, err)
	tree.store[1] = 42

	require.Error(t, tree.Validate())

	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "segtree_validation_errors_total" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				if a, _ := dp.Attributes.Value("aggregate"); a.AsString() == "METRICS-VAL" {
					found = true
					assert.Equal(t, int64(1), dp.Value)
				}
			}
		}
	}
	assert.True(t, found, "validation error not recorded")
}

// endedSpans returns ended spans named name whose segtree.id is id.
func endedSpans(name, id string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spanRecorder.Ended() {
		if s.Name() != name {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "segtree.id" && kv.Value.AsString() == id {
				out = append(out, s)
			}
		}
	}
	return out
}

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_Spans(t *testing.T) {
	ctx := context.Background()
	tree, err := New(ctx, []int64{1, 3, 5, 7, 9, 11}, AggregateMIN, WithID("trace-spans"))
	require.NoError(t, err)

	built := endedSpans("segtree.New", "trace-spans")
	require.Len(t, built, 1)
	assert.Equal(t, codes.Ok, built[0].Status().Code)
	capacity, ok := spanAttr(built[0], "segtree.capacity")
	require.True(t, ok)
	assert.Equal(t, int64(8), capacity.AsInt64())

	_, err = tree.Query(ctx, 1, 4)
	require.NoError(t, err)
	_, err = tree.Query(ctx, 4, 1)
	require.Error(t, err)

	queries := endedSpans("segtree.SegmentTree.Query", "trace-spans")
	require.Len(t, queries, 2)
	assert.Equal(t, codes.Ok, queries[0].Status().Code)
	assert.Equal(t, codes.Error, queries[1].Status().Code)
	require.NotEmpty(t, queries[1].Events())
	assert.Equal(t, "exception", queries[1].Events()[0].Name)

	require.NoError(t, tree.Update(ctx, 2, 10))
	updates := endedSpans("segtree.SegmentTree.Update", "trace-spans")
	require.Len(t, updates, 1)
	levels, ok := spanAttr(updates[0], "segtree.levels")
	require.True(t, ok)
	// 5 -> 10 lifts its parent from 5 to 7; the grandparent stays 1.
	assert.Equal(t, int64(2), levels.AsInt64())
	require.Len(t, updates[0].Events(), 1)
	assert.Equal(t, "early_exit", updates[0].Events()[0].Name)

	// 10 -> 0 changes every ancestor up to the root.
	require.NoError(t, tree.Update(ctx, 2, 0))
	updates = endedSpans("segtree.SegmentTree.Update", "trace-spans")
	require.Len(t, updates, 2)
	levels, ok = spanAttr(updates[1], "segtree.levels")
	require.True(t, ok)
	assert.Equal(t, int64(3), levels.AsInt64())
	assert.Empty(t, updates[1].Events())

	require.NoError(t, tree.Rebuild(ctx, []int64{2, 4}))
	assert.Len(t, endedSpans("segtree.SegmentTree.Rebuild", "trace-spans"), 1)
}

func TestTracing_ChildOfCallerSpan(t *testing.T) {
	ctx, parent := otel.Tracer("test").Start(context.Background(), "caller")
	_, err := New(ctx, []int64{1, 2}, AggregateSUM, WithID("trace-child"))
	require.NoError(t, err)
	parent.End()

	built := endedSpans("segtree.New", "trace-child")
	require.Len(t, built, 1)
	assert.Equal(t, parent.SpanContext().SpanID(), built[0].Parent().SpanID())
	assert.Equal(t, parent.SpanContext().TraceID(), built[0].SpanContext().TraceID())
}
