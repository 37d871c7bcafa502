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
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"sync/atomic"
	"time"
	"unsafe"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/segtree/pkg/telemetry"
)

const (
	// maxElements bounds the input so the store length stays within int32.
	maxElements = math.MaxInt32 / 4

	// cancelCheckInterval is how many leaves are copied between ctx checks.
	cancelCheckInterval = 1024
)

// SegmentTree provides efficient range queries and point updates over an array.
//
// Description:
//
//	An implicit, array-backed segment tree. The backing store has length
//	2*capacity where capacity is the next power of two at or above the
//	element count. Index 1 is the root, node i has children 2i and 2i+1,
//	and leaves occupy [capacity, 2*capacity). Leaves past the logical end
//	hold the monoid identity so they never affect a result.
//
// Invariants:
//   - len(store) == 2*capacity
//   - store[i] == Combine(store[2i], store[2i+1]) for 1 <= i < capacity
//   - store[capacity+k] == Identity for size <= k < capacity
//   - version increments on each Update/Rebuild
//
// Thread Safety:
//
//	NOT safe for concurrent mutation. Counters are atomic so concurrent
//	readers do not race with each other; wrap the tree in Concurrent when
//	readers and writers share it.
type SegmentTree[T comparable] struct {
	store    []T       // Backing store (1-indexed)
	size     int       // Number of logical elements
	capacity int       // Leaf row width (power of 2)
	monoid   Monoid[T] // Combining function and identity

	id     string
	logger *slog.Logger

	version     atomic.Int64
	queryCount  atomic.Int64
	updateCount atomic.Int64
	buildTime   time.Duration
}

// Stats contains statistics about the segment tree.
type Stats struct {
	ID          string        // Instance id
	Size        int           // Number of logical elements
	Capacity    int           // Padded leaf count (power of 2)
	StoreSize   int           // Backing store length (2 * Capacity)
	Height      int           // log2(Capacity)
	Aggregate   string        // Monoid name
	BuildTime   time.Duration // Duration of the last construction/rebuild
	QueryCount  int64         // Successful queries
	UpdateCount int64         // Successful updates
	Version     int64         // Current version
	MemoryBytes int           // Approximate memory usage
}

// New creates a segment tree over data using a built-in aggregation.
//
// Description:
//
//	Resolves agg to its monoid once and builds the tree bottom-up in O(N).
//	An empty data slice is accepted: the tree has capacity 1 and every
//	query on it is out of range.
//
// Inputs:
//   - ctx: Context for cancellation and tracing. Must not be nil.
//   - data: Initial values. Copied; the caller keeps ownership.
//   - agg: AggregateSUM, AggregateMIN or AggregateMAX.
//   - opts: Optional logger / id overrides.
//
// Outputs:
//   - *SegmentTree[T]: Constructed tree. Never nil on success.
//   - error: ErrNilContext, ErrInvalidAggFunc, ErrArrayTooLarge, or a
//     wrapped ctx error if construction was cancelled.
//
// Example:
//
//	tree, err := segtree.New(ctx, []int64{1, 3, 5, 7, 9, 11}, segtree.AggregateMIN)
//	if err != nil {
//	    return fmt.Errorf("build segment tree: %w", err)
//	}
//	lo, _ := tree.Query(ctx, 1, 4) // 3
func New[T Number](ctx context.Context, data []T, agg AggregateFunc, opts ...Option) (*SegmentTree[T], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	m, err := MonoidFor[T](agg)
	if err != nil {
		return nil, err
	}
	return NewWithMonoid(ctx, data, m, opts...)
}

// NewWithMonoid creates a segment tree over data combined by m.
//
// Description:
//
//	Same as New but for any associative monoid, e.g. GCDMonoid or a
//	caller-defined XOR. m.Combine must be deterministic; it is the only
//	function ever used to combine nodes.
//
// Outputs:
//   - error: ErrNilContext, ErrInvalidMonoid, ErrArrayTooLarge, or a
//     wrapped ctx error.
func NewWithMonoid[T comparable](ctx context.Context, data []T, m Monoid[T], opts ...Option) (*SegmentTree[T], error) {
	if err := validateInputs(ctx, len(data), m); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	st := &SegmentTree[T]{
		monoid: m,
		id:     o.id,
		logger: o.logger.With(
			slog.String("segtree_id", o.id),
			slog.String("aggregate", m.Name),
		),
	}

	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "segtree.New",
		trace.WithAttributes(
			attribute.String("segtree.id", st.id),
			attribute.String("segtree.aggregate", m.Name),
			attribute.Int("segtree.size", len(data)),
		),
	)
	defer span.End()

	if err := st.load(ctx, data); err != nil {
		telemetry.RecordError(span, err)
		st.logger.Warn("segment tree construction failed",
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	st.version.Store(1)

	telemetry.SetSpanAttributes(span,
		attribute.Int("segtree.capacity", st.capacity),
		attribute.Int("segtree.height", st.height()),
		attribute.Int64("segtree.build_time_us", st.buildTime.Microseconds()),
	)
	telemetry.SetSpanOK(span)

	st.logger.Debug("segment tree constructed",
		slog.Int("size", st.size),
		slog.Int("capacity", st.capacity),
		slog.Duration("build_time", st.buildTime),
	)
	return st, nil
}

// validateInputs validates inputs to the constructors.
func validateInputs[T any](ctx context.Context, n int, m Monoid[T]) error {
	if ctx == nil {
		return ErrNilContext
	}
	if m.Combine == nil {
		return fmt.Errorf("%w: Combine must not be nil", ErrInvalidMonoid)
	}
	if n > maxElements {
		return fmt.Errorf("%w: %d > %d", ErrArrayTooLarge, n, maxElements)
	}
	return nil
}

// nextPowerOf2 returns the smallest power of 2 that is >= n (1 for n <= 1).
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// load builds a fresh store from data and swaps it in only on success.
func (st *SegmentTree[T]) load(ctx context.Context, data []T) error {
	start := time.Now()
	capacity := nextPowerOf2(len(data))

	store, err := buildStore(ctx, data, capacity, st.monoid)
	duration := time.Since(start)
	recordBuildMetrics(ctx, st.monoid.Name, duration, err == nil)
	if err != nil {
		return err
	}

	st.store = store
	st.size = len(data)
	st.capacity = capacity
	st.buildTime = duration
	return nil
}

// buildStore allocates the store, fills leaves and padding, and combines
// internal nodes from capacity-1 down to the root.
func buildStore[T comparable](ctx context.Context, data []T, capacity int, m Monoid[T]) ([]T, error) {
	store := make([]T, 2*capacity)
	for i := range store {
		store[i] = m.Identity
	}

	for i, v := range data {
		if i%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("build cancelled: %w", ctx.Err())
			default:
			}
		}
		store[capacity+i] = v
	}

	for i := capacity - 1; i > 0; i-- {
		store[i] = m.Combine(store[2*i], store[2*i+1])
	}
	return store, nil
}

// Query computes the aggregate over range [left, right] (inclusive).
//
// Description:
//
//	Walks upward from both leaf ends. A left pointer sitting on a right
//	child is folded and stepped right; a right pointer sitting on a left
//	child is folded and stepped left; both then move to their parents.
//	The folded nodes form a disjoint cover of [left, right], visited in
//	order, so no leaf is counted twice.
//
// Algorithm:
//
//	Time:  O(log N)
//	Space: O(1)
//
// Inputs:
//   - ctx: Context for tracing.
//   - left: Left boundary (0-indexed, inclusive). Must be in [0, Len()).
//   - right: Right boundary (0-indexed, inclusive). Must be in [left, Len()).
//
// Outputs:
//   - T: Aggregate over [left, right].
//   - error: ErrInvalidRange if an index is out of bounds or left > right.
//
// Thread Safety: Safe for concurrent reads when no Update runs.
func (st *SegmentTree[T]) Query(ctx context.Context, left, right int) (T, error) {
	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "segtree.SegmentTree.Query",
		trace.WithAttributes(
			attribute.String("segtree.id", st.id),
			attribute.Int("left", left),
			attribute.Int("right", right),
		),
	)
	defer span.End()

	if err := st.validateRange(left, right); err != nil {
		telemetry.RecordError(span, err)
		recordQueryMetrics(ctx, st.monoid.Name, false)
		var zero T
		return zero, err
	}

	result := st.fold(left, right)
	st.queryCount.Add(1)
	recordQueryMetrics(ctx, st.monoid.Name, true)
	telemetry.SetSpanOK(span)
	return result, nil
}

// validateRange validates query range bounds.
func (st *SegmentTree[T]) validateRange(left, right int) error {
	if left < 0 || left >= st.size {
		return fmt.Errorf("%w: left index %d out of bounds [0,%d)", ErrInvalidRange, left, st.size)
	}
	if right < 0 || right >= st.size {
		return fmt.Errorf("%w: right index %d out of bounds [0,%d)", ErrInvalidRange, right, st.size)
	}
	if left > right {
		return fmt.Errorf("%w: left %d > right %d", ErrInvalidRange, left, right)
	}
	return nil
}

// fold runs the bottom-up range decomposition. Bounds must already be valid.
func (st *SegmentTree[T]) fold(left, right int) T {
	resL, resR := st.monoid.Identity, st.monoid.Identity
	l, r := left+st.capacity, right+st.capacity

	for l <= r {
		if l%2 == 1 {
			resL = st.monoid.Combine(resL, st.store[l])
			l++
		}
		if r%2 == 0 {
			resR = st.monoid.Combine(st.store[r], resR)
			r--
		}
		l /= 2
		r /= 2
	}
	return st.monoid.Combine(resL, resR)
}

// Update sets arr[index] = value and repairs the ancestors.
//
// Description:
//
//	Writes the leaf, then recomputes parents toward the root. Climbing
//	stops at the first ancestor whose recomputed value equals its old
//	value: Combine depends only on the two children, so nothing above
//	it can have changed.
//
// Algorithm:
//
//	Time:  O(log N) worst case
//	Space: O(1)
//
// Inputs:
//   - ctx: Context for tracing.
//   - index: Array index to update (0-indexed). Must be in [0, Len()).
//   - value: New value for arr[index].
//
// Outputs:
//   - error: ErrInvalidRange if index is out of bounds. The store is not
//     touched in that case.
//
// Thread Safety: NOT safe for concurrent use. Caller must synchronize.
func (st *SegmentTree[T]) Update(ctx context.Context, index int, value T) error {
	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "segtree.SegmentTree.Update",
		trace.WithAttributes(
			attribute.String("segtree.id", st.id),
			attribute.Int("index", index),
		),
	)
	defer span.End()

	if index < 0 || index >= st.size {
		err := fmt.Errorf("%w: index %d out of bounds [0,%d)", ErrInvalidRange, index, st.size)
		telemetry.RecordError(span, err)
		recordUpdateMetrics(ctx, st.monoid.Name, 0, false)
		return err
	}

	levels := st.set(index, value)
	st.updateCount.Add(1)
	st.version.Add(1)

	telemetry.SetSpanAttributes(span, attribute.Int("segtree.levels", levels))
	if levels < st.height() {
		telemetry.AddSpanEvent(span, "early_exit", attribute.Int("segtree.levels", levels))
	}
	recordUpdateMetrics(ctx, st.monoid.Name, levels, true)
	telemetry.SetSpanOK(span)
	return nil
}

// set writes a leaf and returns the number of ancestors recomputed.
func (st *SegmentTree[T]) set(index int, value T) int {
	i := st.capacity + index
	st.store[i] = value

	levels := 0
	for i /= 2; i >= 1; i /= 2 {
		next := st.monoid.Combine(st.store[2*i], st.store[2*i+1])
		levels++
		if same(st.store[i], next) {
			break
		}
		st.store[i] = next
	}
	return levels
}

// GetValue returns the current value at arr[index].
func (st *SegmentTree[T]) GetValue(index int) (T, error) {
	if index < 0 || index >= st.size {
		var zero T
		return zero, fmt.Errorf("%w: index %d out of bounds [0,%d)", ErrInvalidRange, index, st.size)
	}
	return st.store[st.capacity+index], nil
}

// Values returns a copy of the current logical array.
func (st *SegmentTree[T]) Values() []T {
	out := make([]T, st.size)
	copy(out, st.store[st.capacity:st.capacity+st.size])
	return out
}

// Nodes returns a copy of the whole backing store, index 0 included.
// Intended for debugging and invariant checks.
func (st *SegmentTree[T]) Nodes() []T {
	out := make([]T, len(st.store))
	copy(out, st.store)
	return out
}

// Rebuild replaces the tree's contents with data, keeping the monoid.
//
// Description:
//
//	The store is rebuilt from scratch at the capacity data needs; there is
//	no in-place growth. On error the existing contents are left intact.
//
// Thread Safety: NOT safe for concurrent use. Caller must synchronize.
func (st *SegmentTree[T]) Rebuild(ctx context.Context, data []T) error {
	if err := validateInputs(ctx, len(data), st.monoid); err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "segtree.SegmentTree.Rebuild",
		trace.WithAttributes(
			attribute.String("segtree.id", st.id),
			attribute.Int("segtree.size", len(data)),
		),
	)
	defer span.End()

	oldSize := st.size
	if err := st.load(ctx, data); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	st.version.Add(1)

	telemetry.SetSpanOK(span)
	st.logger.Debug("segment tree rebuilt",
		slog.Int("old_size", oldSize),
		slog.Int("size", st.size),
		slog.Int("capacity", st.capacity),
	)
	return nil
}

// Clone returns an independent copy of the tree. Counters are carried over.
func (st *SegmentTree[T]) Clone() *SegmentTree[T] {
	c := &SegmentTree[T]{
		store:     st.Nodes(),
		size:      st.size,
		capacity:  st.capacity,
		monoid:    st.monoid,
		id:        st.id,
		logger:    st.logger,
		buildTime: st.buildTime,
	}
	c.version.Store(st.version.Load())
	c.queryCount.Store(st.queryCount.Load())
	c.updateCount.Store(st.updateCount.Load())
	return c
}

// Len returns the number of logical elements.
func (st *SegmentTree[T]) Len() int { return st.size }

// Capacity returns the padded leaf count.
func (st *SegmentTree[T]) Capacity() int { return st.capacity }

// Aggregate returns the monoid name (SUM, MIN, MAX, GCD, ...).
func (st *SegmentTree[T]) Aggregate() string { return st.monoid.Name }

// Identity returns the monoid identity used for padding.
func (st *SegmentTree[T]) Identity() T { return st.monoid.Identity }

// ID returns the instance id.
func (st *SegmentTree[T]) ID() string { return st.id }

func (st *SegmentTree[T]) height() int {
	return bits.Len(uint(st.capacity)) - 1
}

// Validate checks segment tree invariants.
//
// Description:
//
//	Verifies:
//	- Store has length 2*capacity
//	- Padding leaves hold the identity
//	- Every internal node equals Combine of its children
//
// Complexity: O(N) time
func (st *SegmentTree[T]) Validate() error {
	err := st.validate()
	if err != nil {
		recordValidationError(context.Background(), st.monoid.Name)
		st.logger.Error("segment tree validation failed",
			slog.Int("size", st.size),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (st *SegmentTree[T]) validate() error {
	if len(st.store) != 2*st.capacity {
		return fmt.Errorf("%w: store size %d, expected %d", ErrCorruptTree, len(st.store), 2*st.capacity)
	}

	for k := st.size; k < st.capacity; k++ {
		if leaf := st.store[st.capacity+k]; !same(leaf, st.monoid.Identity) {
			return fmt.Errorf("%w: padding leaf %d holds %v, expected identity %v",
				ErrCorruptTree, st.capacity+k, leaf, st.monoid.Identity)
		}
	}

	for i := 1; i < st.capacity; i++ {
		left := st.store[2*i]
		right := st.store[2*i+1]
		expected := st.monoid.Combine(left, right)
		if !same(st.store[i], expected) {
			return fmt.Errorf("%w: node %d: parent=%v but combine(left=%v, right=%v)=%v",
				ErrCorruptTree, i, st.store[i], left, right, expected)
		}
	}
	return nil
}

// Stats returns statistics about the segment tree.
func (st *SegmentTree[T]) Stats() Stats {
	return Stats{
		ID:          st.id,
		Size:        st.size,
		Capacity:    st.capacity,
		StoreSize:   len(st.store),
		Height:      st.height(),
		Aggregate:   st.monoid.Name,
		BuildTime:   st.buildTime,
		QueryCount:  st.queryCount.Load(),
		UpdateCount: st.updateCount.Load(),
		Version:     st.version.Load(),
		MemoryBytes: st.MemoryUsage(),
	}
}

// MemoryUsage estimates memory usage in bytes.
func (st *SegmentTree[T]) MemoryUsage() int {
	var zero T
	storeBytes := len(st.store) * int(unsafe.Sizeof(zero))
	structOverhead := 128 // Approximate struct overhead

	return storeBytes + structOverhead
}

// CacheKey generates a cache key for this segment tree.
//
// Description:
//
//	Returns a deterministic key over size, aggregate, version and the
//	store contents. Any successful Update changes it.
func (st *SegmentTree[T]) CacheKey() string {
	h := sha256.New()

	version := st.version.Load()
	_ = binary.Write(h, binary.LittleEndian, int64(st.size))
	_ = binary.Write(h, binary.LittleEndian, version)
	fmt.Fprintf(h, "%s|", st.monoid.Name)

	for i := 1; i < len(st.store); i++ {
		fmt.Fprintf(h, "%v|", st.store[i])
	}

	return fmt.Sprintf("segtree:%x:v%d", h.Sum(nil)[:16], version)
}
