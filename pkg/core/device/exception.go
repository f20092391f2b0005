// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// Exception is the host-side error built from a device status code and a message.
//
// The code is folded into the message at construction and is not kept separately: Error() is
// the only observable artifact.
type Exception struct {
	message string
}

// Build returns an Exception whose message is `message` followed by the device status code:
//
//	"<message>; Error code: [<code>]"
func Build(message string, code int) *Exception {
	return &Exception{message: fmt.Sprintf("%s; Error code: [%d]", message, code)}
}

// Error implements the error interface.
func (e *Exception) Error() string {
	return e.message
}

// Check converts a pending fault in ref into an Exception, consuming the reference.
// It returns nil if no fault is pending.
//
// prefix is prepended to the fault message, typically the name of the kernel launched.
func Check(ref *ErrorReference, prefix string) error {
	code, msg := ref.Consume()
	if code == 0 {
		return nil
	}
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	return Build(msg, code)
}

// MustCheck is like Check, but raises (panics) with the Exception.
func MustCheck(ref *ErrorReference, prefix string) {
	if err := Check(ref, prefix); err != nil {
		panic(err)
	}
}

// Launch runs a device-side kernel that reports faults through ref, and converts a fault left
// pending when it returns into an Exception.
//
// Any fault already pending in ref before the launch is overwritten by the kernel, or reported
// if the kernel leaves it untouched.
func Launch(ref *ErrorReference, name string, kernel func(ref *ErrorReference)) error {
	kernel(ref)
	return Check(ref, name)
}

// DTypeError is raised when a tensor's dtype doesn't match what an operation expects.
type DTypeError struct {
	message string
}

// BuildDTypeError renders the expected and actual dtypes into the message:
//
//	"<message>; Expected: [<expected>]; Actual: [<actual0>, <actual1>...]"
//
// If expected is dtypes.InvalidDType, the "Expected" part is omitted.
func BuildDTypeError(message string, expected dtypes.DType, actual ...dtypes.DType) *DTypeError {
	var sb strings.Builder
	sb.WriteString(message)
	if expected != dtypes.InvalidDType {
		_, _ = fmt.Fprintf(&sb, "; Expected: [%s]", expected)
	}
	parts := make([]string, len(actual))
	for ii, dtype := range actual {
		parts[ii] = dtype.String()
	}
	_, _ = fmt.Fprintf(&sb, "; Actual: [%s]", strings.Join(parts, ", "))
	return &DTypeError{message: sb.String()}
}

// Error implements the error interface.
func (e *DTypeError) Error() string {
	return e.message
}
