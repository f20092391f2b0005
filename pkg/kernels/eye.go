// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// eyeFn fills flat (a []T) with numMatrices identity matrices of rows x cols.
type eyeFn func(tiler *tiling.Tiler, flat any, rows, cols int)

func eyeFill[T any](one T) eyeFn {
	return func(tiler *tiling.Tiler, flatAny any, rows, cols int) {
		flat := flatAny.([]T)
		if cols == 0 {
			return
		}
		var zero T
		tiler.For(len(flat)/cols, func(start, stop int) {
			for row := start; row < stop; row++ {
				rowFlat := flat[row*cols : (row+1)*cols]
				for ii := range rowFlat {
					rowFlat[ii] = zero
				}
				if diagonal := row % rows; diagonal < cols {
					rowFlat[diagonal] = one
				}
			}
		})
	}
}

var eyeTable = newDTypeTable[eyeFn]("eye").
	withNumeric(numericFns[eyeFn]{
		Int8: eyeFill[int8](1), Int16: eyeFill[int16](1), Int32: eyeFill[int32](1), Int64: eyeFill[int64](1),
		Uint8: eyeFill[uint8](1), Uint16: eyeFill[uint16](1), Uint32: eyeFill[uint32](1), Uint64: eyeFill[uint64](1),
		Float32: eyeFill[float32](1), Float64: eyeFill[float64](1),
		Float16: eyeFill(float16.Fromfloat32(1)),
	}).
	with(dtypes.Bool, eyeFill(true))

var integerDTypes = []dtypes.DType{
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
}

// registerEye registers "eye": it creates identity matrices.
//
// The dimensions are given either as integer inputs (all their values, concatenated) or, if there
// are no inputs, as IArgs:
//
//   - [n]: an n x n matrix.
//   - [rows, cols]: a rows x cols matrix.
//   - [rows, cols, batch...]: a tensor of shape [batch..., rows, cols] of identity matrices.
//
// The dtype is given by DArg 0, Float32 by default.
func registerEye(r *ops.Registry) error {
	return ops.Define("eye").
		Inputs(0).ConfigurableInputs().InputTypes(integerDTypes...).
		Outputs(1).OutputTypes(eyeTable.supported()...).
		Shape(eyeShape).
		Kernel(eyeKernel).
		Register(r)
}

// eyeDimensions returns the dimensions of the output, with the matrix axes last.
func eyeDimensions(ctx *ops.Context) ([]int, error) {
	var params []int64
	if ctx.NumInputs() > 0 {
		for _, input := range ctx.Inputs() {
			values, err := intValues(input)
			if err != nil {
				return nil, err
			}
			params = append(params, values...)
		}
	} else {
		params = ctx.IArgs()
	}
	if len(params) == 0 {
		return nil, errors.Wrap(ops.ErrBadArguments, "eye requires the dimensions either as inputs or as IArgs")
	}
	for _, p := range params {
		if p < 0 {
			return nil, errors.Wrapf(ops.ErrBadArguments, "eye dimensions must be non-negative, got %v", params)
		}
	}
	rows, cols := int(params[0]), int(params[0])
	if len(params) > 1 {
		cols = int(params[1])
	}
	var dims []int
	if len(params) > 2 {
		for _, b := range params[2:] {
			dims = append(dims, int(b))
		}
	}
	return append(dims, rows, cols), nil
}

func eyeShape(ctx *ops.Context) ([]shapes.Shape, error) {
	dims, err := eyeDimensions(ctx)
	if err != nil {
		return nil, err
	}
	dtype := ctx.DArg(0, dtypes.Float32)
	if _, err = eyeTable.get(dtype); err != nil {
		return nil, err
	}
	return []shapes.Shape{shapes.Make(dtype, dims...)}, nil
}

func eyeKernel(ctx *ops.Context) error {
	output := ctx.Output(0)
	fill, err := eyeTable.get(output.DType())
	if err != nil {
		return err
	}
	dims := output.Shape().Dimensions
	rows, cols := dims[len(dims)-2], dims[len(dims)-1]
	fill(ctx.Tiler(), output.Flat(), rows, cols)
	return nil
}
