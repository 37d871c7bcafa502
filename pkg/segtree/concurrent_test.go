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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConcurrent_ReadersAndWriters(t *testing.T) {
	const n = 64
	tree, err := New(context.Background(), make([]int64, n), AggregateSUM)
	require.NoError(t, err)
	c := NewConcurrent(tree)

	g, ctx := errgroup.WithContext(context.Background())

	// Writers own disjoint indices and only ever increase them.
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := w; i < n; i += 4 {
				if err := c.Update(ctx, i, 1); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for r := 0; r < 8; r++ {
		g.Go(func() error {
			var last int64
			for i := 0; i < 200; i++ {
				sum, err := c.Query(ctx, 0, n-1)
				if err != nil {
					return err
				}
				if sum < last || sum > n {
					return fmt.Errorf("sum went from %d to %d", last, sum)
				}
				last = sum
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())

	sum, err := c.Query(context.Background(), 0, n-1)
	require.NoError(t, err)
	assert.Equal(t, int64(n), sum)

	stats := c.Stats()
	assert.Equal(t, int64(n), stats.UpdateCount)
	assert.Equal(t, int64(n+1), stats.Version)
	assert.Equal(t, int64(8*200+1), stats.QueryCount)
	assert.NoError(t, tree.Validate())
}

func TestConcurrent_Snapshot(t *testing.T) {
	ctx := context.Background()
	tree, err := New(ctx, []int64{5, 2, 8}, AggregateMIN)
	require.NoError(t, err)
	c := NewConcurrent(tree)

	snap := c.Snapshot()
	require.NoError(t, c.Update(ctx, 1, 9))

	got, err := snap.Query(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	got, err = c.Query(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	v, err := c.GetValue(1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
	assert.Equal(t, []int64{5, 9, 8}, c.Values())
}

func TestConcurrent_Rebuild(t *testing.T) {
	ctx := context.Background()
	tree, err := New(ctx, []int64{1, 2}, AggregateMAX)
	require.NoError(t, err)
	c := NewConcurrent(tree)

	g := new(errgroup.Group)
	g.Go(func() error { return c.Rebuild(ctx, []int64{4, 3, 2, 1, 0}) })
	g.Go(func() error {
		// Either the old or the rebuilt tree; never a torn one.
		v, err := c.Query(ctx, 0, 1)
		if err != nil {
			return err
		}
		if v != 2 && v != 4 {
			return fmt.Errorf("unexpected max %d", v)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, 5, c.Stats().Size)
	_, err = c.Query(ctx, 4, 4)
	assert.NoError(t, err)
}
