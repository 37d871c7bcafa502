// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package segtree provides a fixed-size segment tree for range aggregates.
//
// A tree is built once from a slice and an aggregation (SUM, MIN, MAX, or
// any associative Monoid). It answers Query(l, r) over an inclusive index
// range and applies Update(i, v) to a single element, both in O(log N).
//
// # Identity Elements
//
// Unused leaves are padded with the aggregation's identity: 0 for SUM, the
// greatest value of T for MIN and the least value of T for MAX. Floating
// point types use true infinities, so no real input collides with padding.
//
// # Errors
//
// Out-of-range indices and empty ranges (left > right) return
// ErrInvalidRange. Validation happens before any mutation.
//
// # Observability
//
// Construction, queries and updates emit OpenTelemetry spans and metrics
// under the "aleutian.segtree" instrumentation scope. Logging goes through
// slog; pass WithLogger to route it.
//
// # Thread Safety
//
// SegmentTree is single-writer. Use Concurrent for shared access, or
// Snapshot/Clone to hand readers a private copy.
package segtree
