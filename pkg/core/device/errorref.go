// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package device holds what crosses the boundary between device-side kernels and host code:
// the ErrorReference used by a kernel to report a fault, the Exception host code raises from it,
// the Affinity tag of an execution and the capability query of the underlying device.
package device

import "sync"

// ErrorReference carries at most one pending device fault (code + message) from a kernel launch
// back to host code.
//
// It is a small state machine:
//
//	CLEAR (Code() == 0) --SetError(code, msg)--> PENDING (Code() != 0) --Message()--> CLEAR
//
// Reading the message consumes the fault: Code() returns 0 afterwards. A second SetError while
// PENDING overwrites the first fault (last write wins, there is no queue). Message() while CLEAR
// returns the last message seen (or "") and leaves the code at 0, so callers must check Code()
// before treating a read as meaningful.
//
// Each ops.Context owns one ErrorReference. Writes are serialized, so partitions of a tiled kernel
// may report faults concurrently, but only the last one survives.
type ErrorReference struct {
	mu      sync.Mutex
	code    int
	message string
}

// SetError records a fault. A code of 0 is "no error" and simply clears the pending state.
func (r *ErrorReference) SetError(code int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
	r.message = message
}

// Code returns the pending error code, or 0 if no fault is pending.
func (r *ErrorReference) Code() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Pending returns whether a fault is waiting to be consumed.
func (r *ErrorReference) Pending() bool {
	return r.Code() != 0
}

// Message returns the message of the last fault and consumes it: the code is reset to 0.
func (r *ErrorReference) Message() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = 0
	return r.message
}

// Consume atomically returns the pending code and message, and clears the code.
// If no fault is pending it returns code 0.
func (r *ErrorReference) Consume() (code int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, message = r.code, r.message
	r.code = 0
	return
}

// Reset clears both code and message.
func (r *ErrorReference) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = 0
	r.message = ""
}
