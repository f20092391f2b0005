// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements the synchronization primitives used by the parallel loops.
package xsync

import (
	"sync"
	"sync/atomic"
)

// FirstFailure keeps the first value stored in it and drops the later ones.
// It is used to collect the failure of concurrent tasks so it is reported exactly once.
//
// The zero value is ready to use.
type FirstFailure[T any] struct {
	mu      sync.Mutex
	value   T
	failed  atomic.Bool
	dropped atomic.Int32
}

// Store value if it is the first one. It returns true if the value was kept.
func (f *FirstFailure[T]) Store(value T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed.Load() {
		f.dropped.Add(1)
		return false
	}
	f.value = value
	f.failed.Store(true)
	return true
}

// Failed returns whether any value was stored. It doesn't block and can be used by
// concurrent tasks to stop early.
func (f *FirstFailure[T]) Failed() bool {
	return f.failed.Load()
}

// Load returns the first value stored, if any.
func (f *FirstFailure[T]) Load() (value T, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.failed.Load()
}

// NumDropped returns how many values were stored after the first one.
func (f *FirstFailure[T]) NumDropped() int {
	return int(f.dropped.Load())
}
