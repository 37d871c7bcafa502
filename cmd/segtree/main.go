// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command segtree builds segment trees and runs range queries against them.
//
// Usage:
//
//	segtree demo
//	segtree query --agg sum --data 1,2,3,4 0 3
//	segtree run plan.yaml --metric-exporter prometheus --print-metrics
//
// Global flags select the config file, log level and telemetry exporters:
//
//	segtree --config segtree.yaml --log-level debug --trace-exporter stdout run plan.yaml
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}
