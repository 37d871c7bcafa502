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

import "errors"

// Sentinel errors for segment tree operations.
var (
	// ErrNilContext is returned when a nil context is passed to a constructor.
	ErrNilContext = errors.New("ctx must not be nil")

	// ErrArrayTooLarge is returned when the input would need a backing
	// store larger than the tree supports.
	ErrArrayTooLarge = errors.New("array size exceeds maximum")

	// ErrInvalidAggFunc is returned for an aggregation kind outside
	// SUM, MIN and MAX, or an unparseable aggregation name.
	ErrInvalidAggFunc = errors.New("invalid aggregation function")

	// ErrInvalidMonoid is returned when a custom monoid has no Combine function.
	ErrInvalidMonoid = errors.New("invalid monoid")

	// ErrInvalidRange is returned when a query range or update index falls
	// outside [0, Len()), or when left > right.
	ErrInvalidRange = errors.New("invalid query range")

	// ErrCorruptTree is returned by Validate when a node no longer equals
	// the combination of its children.
	ErrCorruptTree = errors.New("segment tree invariant violated")
)
