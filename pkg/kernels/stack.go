// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"reflect"

	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/pkg/errors"
)

// registerStack registers "stack", also known as "pack" and "Pack".
//
// It joins one or more inputs of equal shape and dtype along a new axis, given by IArg 0 (default 0).
// The axis refers to the output, so it can be in [-rank-1, rank], where rank is the inputs' rank.
func registerStack(r *ops.Registry) error {
	return ops.Define("stack").Synonyms("pack", "Pack").
		Inputs(1).ConfigurableInputs().
		Outputs(1).IArgs(0).
		Shape(stackShape).
		Kernel(stackKernel).
		Register(r)
}

// newAxis validates the IArg 0 as an axis of a tensor of the given rank, and returns it non-negative.
func newAxis(ctx *ops.Context, rank int) (int, error) {
	axis := int(ctx.IArg(0, 0))
	if axis < -rank || axis >= rank {
		return 0, errors.Wrapf(ops.ErrBadArguments, "axis %d out of range for rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

func stackShape(ctx *ops.Context) ([]shapes.Shape, error) {
	if err := ops.ValidateInputDimensionsMatch(ctx); err != nil {
		return nil, err
	}
	if err := ops.ValidateInputDTypesMatch(ctx); err != nil {
		return nil, err
	}
	inputShape := ctx.Input(0).Shape()
	axis, err := newAxis(ctx, inputShape.Rank()+1)
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{inputShape.InsertAxis(axis, ctx.NumInputs())}, nil
}

func stackKernel(ctx *ops.Context) error {
	output := ctx.Output(0)
	axis, err := newAxis(ctx, output.Rank())
	if err != nil {
		return err
	}
	outer, numInputs, inner := output.Shape().SplitAt(axis)
	if output.Size() == 0 {
		return nil
	}
	dst := reflect.ValueOf(output.Flat())
	srcs := make([]reflect.Value, numInputs)
	for ii, input := range ctx.Inputs() {
		srcs[ii] = reflect.ValueOf(input.Flat())
	}
	// Block ii of the output is block ii/numInputs of input ii%numInputs. Large blocks (few
	// inputs stacked on the first axis) are themselves copied in parallel.
	ctx.Tiler().DoNested(outer*numInputs, func(nested *tiling.Tiler, block int) {
		outerIdx, inputIdx := block/numInputs, block%numInputs
		dstBlock := dst.Slice(block*inner, (block+1)*inner)
		srcBlock := srcs[inputIdx].Slice(outerIdx*inner, (outerIdx+1)*inner)
		nested.For(inner, func(start, stop int) {
			reflect.Copy(dstBlock.Slice(start, stop), srcBlock.Slice(start, stop))
		})
	})
	return nil
}

// registerUnstack registers "unstack", the inverse of "stack": it returns one tensor per index of
// the axis given by IArg 0 (default 0), each with that axis removed.
//
// The results are committed as the outputs by the dispatch, their number depends on the input.
func registerUnstack(r *ops.Registry) error {
	return ops.Define("unstack").
		Inputs(1).Outputs(0).IArgs(0).
		ListKernel(unstackKernel).
		Register(r)
}

func unstackKernel(ctx *ops.Context) ([]*tensors.Tensor, error) {
	input := ctx.Input(0)
	if input.Rank() == 0 {
		return nil, errors.Wrap(ops.ErrShapeMismatch, "cannot unstack a scalar")
	}
	axis, err := newAxis(ctx, input.Rank())
	if err != nil {
		return nil, err
	}
	outer, numParts, inner := input.Shape().SplitAt(axis)
	partShape := input.Shape().RemoveAxis(axis)
	results := make([]*tensors.Tensor, numParts)
	dsts := make([]reflect.Value, numParts)
	for ii := range results {
		results[ii], err = ctx.Allocate(partShape)
		if err != nil {
			return nil, err
		}
		dsts[ii] = reflect.ValueOf(results[ii].Flat())
	}
	if input.Size() == 0 {
		return results, nil
	}
	src := reflect.ValueOf(input.Flat())
	ctx.Tiler().For(outer*numParts, func(start, stop int) {
		for block := start; block < stop; block++ {
			outerIdx, partIdx := block/numParts, block%numParts
			reflect.Copy(dsts[partIdx].Slice(outerIdx*inner, (outerIdx+1)*inner), src.Slice(block*inner, (block+1)*inner))
		}
	})
	return results, nil
}
