// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/pkg/errors"
)

// Validation helpers to be used by shape functions and kernels. They return an *Error with the
// specific Status, which the dispatch preserves.

// ValidateNonEmptyInput checks that all inputs have at least one element.
func ValidateNonEmptyInput(ctx *Context) error {
	for ii, input := range ctx.inputs {
		if input.Size() == 0 {
			return newError(ctx.opName, StatusBadInput, errors.Errorf("input #%d %s is empty", ii, input.Shape()))
		}
	}
	return nil
}

// ValidateInputLengthMatch checks that all inputs have the same number of elements.
func ValidateInputLengthMatch(ctx *Context) error {
	if len(ctx.inputs) == 0 {
		return nil
	}
	want := ctx.inputs[0].Size()
	for ii, input := range ctx.inputs[1:] {
		if input.Size() != want {
			return newError(ctx.opName, StatusBadLength, errors.Wrapf(ErrShapeMismatch,
				"input #%d has %d elements, input #0 has %d", ii+1, input.Size(), want))
		}
	}
	return nil
}

// ValidateInputDimensionsMatch checks that all inputs have the same dimensions (dtypes may differ).
func ValidateInputDimensionsMatch(ctx *Context) error {
	if len(ctx.inputs) == 0 {
		return nil
	}
	first := ctx.inputs[0].Shape()
	for ii, input := range ctx.inputs[1:] {
		if !input.Shape().EqualDimensions(first) {
			return newError(ctx.opName, StatusBadDimensions, errors.Wrapf(ErrShapeMismatch,
				"input #%d has shape %s, input #0 has shape %s", ii+1, input.Shape(), first))
		}
	}
	return nil
}

// ValidateInputDTypesMatch checks that all inputs have the same dtype.
func ValidateInputDTypesMatch(ctx *Context) error {
	if len(ctx.inputs) == 0 {
		return nil
	}
	want := ctx.inputs[0].DType()
	for ii, input := range ctx.inputs[1:] {
		if input.DType() != want {
			return newError(ctx.opName, StatusValidation, errors.Wrap(ErrDTypeMismatch,
				device.BuildDTypeError(fmt.Sprintf("input #%d dtype differs from input #0", ii+1), want, input.DType()).Error()))
		}
	}
	return nil
}

// ValidateInputRank checks that all inputs have the given rank.
func ValidateInputRank(ctx *Context, rank int) error {
	for ii, input := range ctx.inputs {
		if input.Rank() != rank {
			return newError(ctx.opName, StatusBadRank, errors.Wrapf(ErrShapeMismatch,
				"input #%d has rank %d (shape %s), rank %d required", ii, input.Rank(), input.Shape(), rank))
		}
	}
	return nil
}
