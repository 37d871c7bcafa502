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
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
)

// prometheusRegistry holds the registry backing the prometheus reader.
// A private registry keeps repeated Init calls from colliding on the
// process-wide default registerer.
var (
	prometheusRegistry   *prometheus.Registry
	prometheusRegistryMu sync.RWMutex
)

// newPrometheusReader creates an otel reader registered on a fresh registry.
func newPrometheusReader() (*promexporter.Exporter, error) {
	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	prometheusRegistryMu.Lock()
	prometheusRegistry = reg
	prometheusRegistryMu.Unlock()

	return exporter, nil
}

// resetPrometheusRegistry detaches the registry so WriteMetrics reports
// ErrPrometheusDisabled after shutdown.
func resetPrometheusRegistry(context.Context) error {
	prometheusRegistryMu.Lock()
	prometheusRegistry = nil
	prometheusRegistryMu.Unlock()
	return nil
}

// Gatherer returns the registry behind the prometheus exporter, or nil if
// the prometheus metric exporter has not been initialized.
//
// Thread Safety: Safe for concurrent use.
func Gatherer() prometheus.Gatherer {
	prometheusRegistryMu.RLock()
	defer prometheusRegistryMu.RUnlock()
	if prometheusRegistry == nil {
		return nil
	}
	return prometheusRegistry
}

// WriteMetrics writes the text exposition of every gathered metric family
// whose name starts with prefix ("" writes all).
//
// Outputs:
//
//	error - ErrPrometheusDisabled if the prometheus exporter is not active,
//	or a gather/encode error.
func WriteMetrics(w io.Writer, prefix string) error {
	g := Gatherer()
	if g == nil {
		return ErrPrometheusDisabled
	}

	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range families {
		if prefix != "" && !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
