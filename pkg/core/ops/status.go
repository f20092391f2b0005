// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the numeric result of an operation execution. StatusOK is the only success value.
//
// The numeric values are stable: they are what collaborators outside Go see.
type Status int

//go:generate enumer -type=Status -trimprefix=Status status.go

const (
	StatusOK               Status = 0
	StatusBadInput         Status = 1
	StatusBadShape         Status = 2
	StatusBadRank          Status = 3
	StatusBadParams        Status = 4
	StatusBadOutput        Status = 5
	StatusValidation       Status = 20
	StatusBadLength        Status = 31
	StatusBadDimensions    Status = 32
	StatusBadArguments     Status = 34
	StatusKernelFailure    Status = 50
	StatusUnknownOperation Status = 60
)

// Ok returns whether s is StatusOK.
func (s Status) Ok() bool { return s == StatusOK }

var (
	// ErrUnknownOperation is returned when resolving a name (or synonym) that is not registered.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrDuplicateName is returned when registering a name or synonym already in use.
	ErrDuplicateName = errors.New("duplicate operation name")

	// ErrRegistrySealed is returned when registering after Registry.Initialize.
	ErrRegistrySealed = errors.New("registry is sealed")

	// ErrArgumentCount is returned when a context has fewer inputs or outputs than the operation requires,
	// or more inputs than a non-configurable operation accepts.
	ErrArgumentCount = errors.New("wrong number of inputs or outputs")

	// ErrBadArguments is returned for missing or invalid scalar arguments (TArgs, IArgs, BArgs, DArgs),
	// and for in-place execution of an operation that doesn't allow it.
	ErrBadArguments = errors.New("bad arguments")

	// ErrShapeMismatch is returned when input or output shapes are not the ones expected.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDTypeMismatch is returned when an input or output has a dtype not accepted by the operation.
	ErrDTypeMismatch = errors.New("dtype mismatch")
)

// Error is the error returned by a failed execution. It carries the Status, and the name of the operation.
type Error struct {
	Op     string
	Status Status
	Err    error
}

// Error implements the error interface. The message includes the numeric status code.
func (e *Error) Error() string {
	return fmt.Sprintf("operation %q failed with status %s (%d): %v", e.Op, e.Status, int(e.Status), e.Err)
}

// Unwrap allows errors.Is and errors.As to inspect the cause.
func (e *Error) Unwrap() error { return e.Err }

// Cause is the github.com/pkg/errors equivalent of Unwrap.
func (e *Error) Cause() error { return e.Err }

// newError creates an *Error, unless err already is one, in which case it is returned unchanged:
// the innermost status is the most specific.
func newError(op string, status Status, err error) error {
	if err == nil {
		return nil
	}
	var opErr *Error
	if errors.As(err, &opErr) {
		return err
	}
	return &Error{Op: op, Status: status, Err: err}
}

// StatusOf maps an error to a Status. nil is StatusOK.
//
// An *Error in the chain gives its Status, otherwise the known sentinel errors are mapped to their
// status, and anything else is a StatusKernelFailure.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Status
	}
	return statusForSentinel(err)
}

func statusForSentinel(err error) Status {
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return StatusUnknownOperation
	case errors.Is(err, ErrArgumentCount):
		return StatusBadInput
	case errors.Is(err, ErrBadArguments):
		return StatusBadArguments
	case errors.Is(err, ErrShapeMismatch):
		return StatusBadShape
	case errors.Is(err, ErrDTypeMismatch), errors.Is(err, ErrDuplicateName), errors.Is(err, ErrRegistrySealed):
		return StatusValidation
	default:
		return StatusKernelFailure
	}
}
