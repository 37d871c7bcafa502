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
)

// Concurrent guards a SegmentTree with a single-writer / multi-reader lock.
//
// Thread Safety:
//   - Query, GetValue, Values, Stats and Snapshot acquire the read lock
//   - Update and Rebuild acquire the write lock
//
// The wrapped tree must not be used directly once handed to Concurrent.
type Concurrent[T comparable] struct {
	mu   sync.RWMutex
	tree *SegmentTree[T]
}

// NewConcurrent wraps tree. tree must not be nil.
func NewConcurrent[T comparable](tree *SegmentTree[T]) *Concurrent[T] {
	return &Concurrent[T]{tree: tree}
}

// Query computes the aggregate over [left, right] under the read lock.
func (c *Concurrent[T]) Query(ctx context.Context, left, right int) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Query(ctx, left, right)
}

// Update sets arr[index] = value under the write lock.
func (c *Concurrent[T]) Update(ctx context.Context, index int, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Update(ctx, index, value)
}

// Rebuild replaces the contents under the write lock.
func (c *Concurrent[T]) Rebuild(ctx context.Context, data []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Rebuild(ctx, data)
}

// GetValue returns arr[index] under the read lock.
func (c *Concurrent[T]) GetValue(index int) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.GetValue(index)
}

// Values returns a copy of the logical array under the read lock.
func (c *Concurrent[T]) Values() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Values()
}

// Stats returns tree statistics under the read lock.
func (c *Concurrent[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Stats()
}

// Snapshot returns an independent copy that readers can query without
// holding the lock. Later updates do not affect it.
func (c *Concurrent[T]) Snapshot() *SegmentTree[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Clone()
}
