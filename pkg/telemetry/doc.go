// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for segtree.
//
// Init installs a TracerProvider and MeterProvider chosen by Config. Library
// code never depends on Init having run: without it the global no-op
// providers are used and instrumentation costs almost nothing.
//
// # Trace Exporters
//
//   - "none": no TracerProvider is installed
//   - "stdout": pretty-printed spans on stdout
//   - "otlp": gRPC export to Config.OTLPEndpoint (plaintext for host:port,
//     TLS for an https:// URL)
//
// # Metric Exporters
//
//   - "none": no MeterProvider is installed
//   - "stdout": periodic pretty-printed metrics on stdout
//   - "prometheus": pull-based reader on a private registry; read it with
//     Gatherer or WriteMetrics
//
// # Environment Variables
//
//   - OTEL_TRACES_EXPORTER: trace exporter (default: none)
//   - OTEL_METRICS_EXPORTER: metric exporter (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
