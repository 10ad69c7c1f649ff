// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate merges per-file normalization results into one scan
// result, and runs per-file work on a bounded pool whose results are
// delivered in discovery order.
package aggregate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 8

type indexed[T any] struct {
	i   int
	v   T
	err error
}

// RunOrdered runs work for items 0..n-1 with at most limit in flight and
// hands every outcome to emit in index order.
//
// Description:
//
//	Workers finish in any order. Completed results are buffered until every
//	lower index has been emitted, so emit observes 0, 1, 2, ... regardless
//	of timing. emit runs on the calling goroutine only and needs no locking.
//	A work error, or a panic inside work, is passed to emit for that index
//	and does not stop the pool.
//
// Inputs:
//
//	ctx - Cancellation stops launching new work; emitted results stop at
//	the first index that never ran.
//	n - Number of items.
//	limit - Maximum items in flight. Values below 1 use DefaultWorkers.
//	work - Processes one item.
//	emit - Receives each outcome in order.
//
// Outputs:
//
//	error - ctx.Err() when cancelled, nil otherwise.
//
// Thread Safety:
//
//	work must be safe for concurrent use.
func RunOrdered[T any](ctx context.Context, n, limit int, work func(ctx context.Context, i int) (T, error), emit func(i int, v T, err error)) error {
	if n <= 0 {
		return ctx.Err()
	}
	if limit < 1 {
		limit = DefaultWorkers
	}

	results := make(chan indexed[T], limit)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	go func() {
		for i := 0; i < n; i++ {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				v, err := protect(gctx, i, work)
				results <- indexed[T]{i: i, v: v, err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	pending := make(map[int]indexed[T])
	next := 0
	for r := range results {
		pending[r.i] = r
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			emit(p.i, p.v, p.err)
			next++
		}
	}
	return ctx.Err()
}

func protect[T any](ctx context.Context, i int, work func(ctx context.Context, i int) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing item %d: %v", i, r)
		}
	}()
	return work(ctx, i)
}
