// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling partitions a range of work into contiguous spans and runs them on the shared
// workers pool.
//
// All loops are blocking: they return only after every partition finished. A panic (or error)
// in any partition is reported exactly once to the caller, after all partitions joined.
//
// Loops can be nested: a partition that starts its own loop never waits for a free worker,
// it runs the sub-partitions inline if the pool is full. Loops nested with DoNested also know
// whether they run on a pool worker, in which case the worker lends its slot while it waits.
package tiling

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opcore/internal/workerspool"
	"github.com/gomlx/opcore/pkg/support/xsync"
	"github.com/pkg/errors"
)

// Span is the half-open range [Start, Stop).
type Span struct {
	Start, Stop int
}

// Len returns the number of elements in the span.
func (s Span) Len() int { return s.Stop - s.Start }

// String implements fmt.Stringer.
func (s Span) String() string { return fmt.Sprintf("[%d, %d)", s.Start, s.Stop) }

// Tiler plans and runs parallel loops. It is safe for concurrent use.
type Tiler struct {
	pool    *workerspool.Pool
	minSpan int

	// onWorker is set in the Tilers given to the bodies of DoNested that run on a pool worker.
	onWorker bool
}

// New creates a Tiler that runs partitions on pool.
//
// minSpan is the minimum number of elements per partition (elementwise threshold): extents smaller
// than 2*minSpan are not split. Values < 1 are taken as 1.
//
// If pool is nil, or it has parallelism disabled, all loops run sequentially in the caller's goroutine.
func New(pool *workerspool.Pool, minSpan int) *Tiler {
	return &Tiler{pool: pool, minSpan: max(minSpan, 1)}
}

// OnWorker returns whether loops started with this Tiler run on a pool worker, see DoNested.
func (t *Tiler) OnWorker() bool { return t.onWorker }

// workerView returns a copy of t for loops started from a pool worker.
func (t *Tiler) workerView() *Tiler {
	if t.onWorker {
		return t
	}
	view := *t
	view.onWorker = true
	return &view
}

// Pool used by the Tiler. It may be nil.
func (t *Tiler) Pool() *workerspool.Pool { return t.pool }

// MinSpan returns the minimum number of elements per partition.
func (t *Tiler) MinSpan() int { return t.minSpan }

// MaxPartitions returns the maximum number of partitions a loop is split into.
func (t *Tiler) MaxPartitions() int {
	if t.pool == nil || !t.pool.IsEnabled() {
		return 1
	}
	if t.pool.IsUnlimited() {
		return runtime.NumCPU()
	}
	return t.pool.MaxParallelism()
}

// Partitions returns the plan for a loop over [0, extent): contiguous, non-overlapping spans
// covering the range exactly, ordered by Start.
//
// There is at most one span per unit of parallelism, and each span has at least MinSpan elements,
// except if extent itself is smaller. It returns nil if extent <= 0.
func (t *Tiler) Partitions(extent int) []Span {
	if extent <= 0 {
		return nil
	}
	numParts := min(t.MaxPartitions(), max(1, extent/t.minSpan))
	return split(extent, numParts)
}

// split [0, extent) into numParts spans of nearly equal size: the first extent%numParts spans
// get one extra element.
func split(extent, numParts int) []Span {
	if extent <= 0 {
		return nil
	}
	numParts = min(max(numParts, 1), extent)
	spans := make([]Span, numParts)
	base, remainder := extent/numParts, extent%numParts
	start := 0
	for ii := range spans {
		size := base
		if ii < remainder {
			size++
		}
		spans[ii] = Span{start, start + size}
		start += size
	}
	return spans
}

// run executes task(ii, inner) for every ii in [0, numTasks), and waits for all of them. inner is
// the Tiler for loops nested in the task: t itself, or its worker view if the task runs on a pool
// worker.
//
// Task 0 runs in the caller's goroutine, the others are started on the pool if a worker is
// available, or inline otherwise. Panics are recorded in failure, and once a failure is
// recorded, tasks not yet started are skipped.
func (t *Tiler) run(numTasks int, task func(ii int, inner *Tiler), failure *xsync.FirstFailure[any]) {
	if numTasks <= 0 {
		return
	}
	guarded := func(ii int, inner *Tiler) {
		if failure.Failed() {
			return
		}
		if exception := exceptions.Try(func() { task(ii, inner) }); exception != nil {
			failure.Store(exception)
		}
	}
	if numTasks == 1 || t.pool == nil || !t.pool.IsEnabled() {
		for ii := range numTasks {
			guarded(ii, t)
		}
		return
	}

	workerTiler := t.workerView()
	var wg sync.WaitGroup
	for ii := 1; ii < numTasks; ii++ {
		wg.Add(1)
		if !t.pool.StartIfAvailable(func() {
			defer wg.Done()
			guarded(ii, workerTiler)
		}) {
			guarded(ii, t)
			wg.Done()
		}
	}
	guarded(0, t)

	if !t.onWorker {
		wg.Wait()
		return
	}
	// Only a pool worker holds a slot it can lend while waiting.
	t.pool.WorkerIsAsleep()
	wg.Wait()
	t.pool.WorkerRestarted()
}

// For runs body over [0, extent), split according to Partitions.
// It blocks until all partitions finish.
//
// If body panics in one or more partitions, the first panic value is re-raised once, after
// all partitions joined. Extent <= 0 never invokes body.
func (t *Tiler) For(extent int, body func(start, stop int)) {
	spans := t.Partitions(extent)
	var failure xsync.FirstFailure[any]
	t.run(len(spans), func(ii int, _ *Tiler) { body(spans[ii].Start, spans[ii].Stop) }, &failure)
	if exception, failed := failure.Load(); failed {
		panic(exception)
	}
}

// panicToError converts a recovered panic value to an error.
func panicToError(exception any, where string) error {
	if err, ok := exception.(error); ok {
		return errors.WithMessagef(err, "panic in %s", where)
	}
	return errors.Errorf("panic in %s: %v", where, exception)
}

// TryFor is like For, but body returns an error. It returns the first error (or panic, converted
// to an error) of any partition, after all partitions joined.
//
// Partitions not yet started when a failure happens are skipped.
func (t *Tiler) TryFor(extent int, body func(start, stop int) error) error {
	spans := t.Partitions(extent)
	var failure xsync.FirstFailure[any]
	t.run(len(spans), func(ii int, _ *Tiler) {
		span := spans[ii]
		if err := body(span.Start, span.Stop); err != nil {
			failure.Store(err)
		}
	}, &failure)
	exception, failed := failure.Load()
	if !failed {
		return nil
	}
	if err, ok := exception.(error); ok {
		return err
	}
	return panicToError(exception, "parallel loop partition")
}

// For2D runs body over the rectangle [0, rows) x [0, cols).
//
// Rows are split first. If there are fewer rows than partitions, columns are split as well, so
// that the number of tiles approaches the number of partitions. Tiles never overlap and cover the
// rectangle exactly. Panics are handled as in For.
func (t *Tiler) For2D(rows, cols int, body func(rowStart, rowStop, colStart, colStop int)) {
	if rows <= 0 || cols <= 0 {
		return
	}
	numParts := len(t.Partitions(rows * cols))
	rowSpans := split(rows, numParts)
	colSpans := split(cols, numParts/len(rowSpans))
	numTiles := len(rowSpans) * len(colSpans)
	var failure xsync.FirstFailure[any]
	t.run(numTiles, func(ii int, _ *Tiler) {
		rowSpan, colSpan := rowSpans[ii/len(colSpans)], colSpans[ii%len(colSpans)]
		body(rowSpan.Start, rowSpan.Stop, colSpan.Start, colSpan.Stop)
	}, &failure)
	if exception, failed := failure.Load(); failed {
		panic(exception)
	}
}

// Do runs body(taskID) for every taskID in [0, numTasks), with up to MaxPartitions tasks running in
// parallel. It blocks until all tasks finish. Panics are handled as in For.
func (t *Tiler) Do(numTasks int, body func(taskID int)) {
	t.DoNested(numTasks, func(_ *Tiler, taskID int) { body(taskID) })
}

// DoNested is like Do, but body also receives the Tiler to use for loops nested in the task.
// When the task runs on a pool worker, the nested loops lend the worker's slot while they wait
// for their partitions.
func (t *Tiler) DoNested(numTasks int, body func(inner *Tiler, taskID int)) {
	if numTasks <= 0 {
		return
	}
	spans := split(numTasks, min(numTasks, t.MaxPartitions()))
	var failure xsync.FirstFailure[any]
	t.run(len(spans), func(ii int, inner *Tiler) {
		for taskID := spans[ii].Start; taskID < spans[ii].Stop; taskID++ {
			body(inner, taskID)
		}
	}, &failure)
	if exception, failed := failure.Load(); failed {
		panic(exception)
	}
}

// Reduce runs body over the partitions of [0, extent) in parallel, and folds the partial results
// with combine, in partition order, starting from zero.
//
// combine should be associative: the grouping of the fold depends on the number of partitions.
// It returns zero if extent <= 0. Panics are handled as in For.
func Reduce[T any](t *Tiler, extent int, zero T, body func(start, stop int) T, combine func(a, b T) T) T {
	spans := t.Partitions(extent)
	partials := make([]T, len(spans))
	var failure xsync.FirstFailure[any]
	t.run(len(spans), func(ii int, _ *Tiler) {
		partials[ii] = body(spans[ii].Start, spans[ii].Stop)
	}, &failure)
	if exception, failed := failure.Load(); failed {
		panic(exception)
	}
	result := zero
	for _, partial := range partials {
		result = combine(result, partial)
	}
	return result
}
