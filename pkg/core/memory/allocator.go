// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Allocator hands out allocation handles and reports every acquisition and release to a Ledger.
//
// Handles are never reused during the life of an Allocator, so a double-free is always detected,
// even after the same amount of memory is allocated again.
type Allocator struct {
	ledger        *Ledger
	captureStacks bool
	nextHandle    atomic.Int64
	numAllocated  atomic.Int64
	numReleased   atomic.Int64
}

// NewAllocator creates an Allocator reporting to ledger.
//
// If captureStacks is true, the stack trace of each allocation is kept in the ledger entry,
// to be printed in leak reports. It is somewhat expensive, so it is usually only enabled with
// leak detection.
func NewAllocator(ledger *Ledger, captureStacks bool) *Allocator {
	return &Allocator{ledger: ledger, captureStacks: captureStacks}
}

// Ledger the allocator is reporting to.
func (a *Allocator) Ledger() *Ledger { return a.ledger }

// CapturesStacks returns whether stack traces are recorded for each allocation.
func (a *Allocator) CapturesStacks() bool { return a.captureStacks }

// stackTracer is implemented by the errors created with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// captureStack returns the caller's stack, skipping the allocator frames.
func captureStack(skip int) string {
	err := errors.New("allocation")
	tracer, ok := err.(stackTracer)
	if !ok {
		return ""
	}
	frames := tracer.StackTrace()
	if skip >= len(frames) {
		return ""
	}
	var sb strings.Builder
	for _, frame := range frames[skip:] {
		_, _ = fmt.Fprintf(&sb, "%+v\n", frame)
	}
	return sb.String()
}

// Allocate records a new allocation of numBytes of the given memType and returns its handle.
// If the ledger rejects it (e.g. a memory limit), no handle is consumed by the caller and the
// error is returned.
func (a *Allocator) Allocate(memType MemoryType, numBytes int64) (Handle, error) {
	handle := Handle(a.nextHandle.Add(1))
	var stack string
	if a.captureStacks {
		// Skip captureStack and Allocate.
		stack = captureStack(2)
	}
	if err := a.ledger.RecordAllocation(memType, handle, numBytes, stack); err != nil {
		return 0, err
	}
	a.numAllocated.Add(1)
	if klog.V(3).Enabled() {
		klog.Infof("allocated %s", Entry{MemoryType: memType, Handle: handle, NumBytes: numBytes})
	}
	return handle, nil
}

// Release records the deallocation of handle. It returns an error wrapping ErrUnknownAllocation
// on a double-free or if the handle was never allocated.
func (a *Allocator) Release(memType MemoryType, handle Handle) error {
	if err := a.ledger.RecordDeallocation(memType, handle); err != nil {
		return err
	}
	a.numReleased.Add(1)
	return nil
}

// Stats returns the number of successful allocations and releases since creation.
func (a *Allocator) Stats() (numAllocated, numReleased int64) {
	return a.numAllocated.Load(), a.numReleased.Load()
}
