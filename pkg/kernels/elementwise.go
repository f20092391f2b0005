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

// iotaFn fills flat (a []T) with its flat indices.
type iotaFn func(tiler *tiling.Tiler, flat any)

func iotaNumeric[T numeric](tiler *tiling.Tiler, flatAny any) {
	flat := flatAny.([]T)
	tiler.For(len(flat), func(start, stop int) {
		for ii := start; ii < stop; ii++ {
			flat[ii] = T(ii)
		}
	})
}

func iotaFloat16(tiler *tiling.Tiler, flatAny any) {
	flat := flatAny.([]float16.Float16)
	tiler.For(len(flat), func(start, stop int) {
		for ii := start; ii < stop; ii++ {
			flat[ii] = float16.Fromfloat32(float32(ii))
		}
	})
}

var iotaTable = newDTypeTable[iotaFn]("iota").
	withNumeric(numericFns[iotaFn]{
		Int8: iotaNumeric[int8], Int16: iotaNumeric[int16], Int32: iotaNumeric[int32], Int64: iotaNumeric[int64],
		Uint8: iotaNumeric[uint8], Uint16: iotaNumeric[uint16], Uint32: iotaNumeric[uint32], Uint64: iotaNumeric[uint64],
		Float32: iotaNumeric[float32], Float64: iotaNumeric[float64],
		Float16: iotaFloat16,
	})

// registerIota registers "iota": a tensor with shape given by the IArgs (none for a scalar) and
// dtype given by DArg 0 (Int64 by default), filled with 0, 1, 2, ... in row-major order.
func registerIota(r *ops.Registry) error {
	return ops.Define("iota").
		Outputs(1).OutputTypes(iotaTable.supported()...).
		Shape(iotaShape).
		Kernel(func(ctx *ops.Context) error {
			output := ctx.Output(0)
			fill, err := iotaTable.get(output.DType())
			if err != nil {
				return err
			}
			fill(ctx.Tiler(), output.Flat())
			return nil
		}).
		Register(r)
}

func iotaShape(ctx *ops.Context) ([]shapes.Shape, error) {
	dims := make([]int, len(ctx.IArgs()))
	for ii, dim := range ctx.IArgs() {
		if dim < 0 {
			return nil, errors.Wrapf(ops.ErrBadArguments, "iota dimensions must be non-negative, got %v", ctx.IArgs())
		}
		dims[ii] = int(dim)
	}
	dtype := ctx.DArg(0, dtypes.Int64)
	if _, err := iotaTable.get(dtype); err != nil {
		return nil, err
	}
	return []shapes.Shape{shapes.Make(dtype, dims...)}, nil
}

// scalarAddFn computes output = input + value, element-wise. input and output are []T, and may be
// the same slice.
type scalarAddFn func(tiler *tiling.Tiler, input, output any, value float64)

func scalarAddNumeric[T numeric](tiler *tiling.Tiler, inputAny, outputAny any, value float64) {
	input, output := inputAny.([]T), outputAny.([]T)
	scalar := T(value)
	tiler.For(len(input), func(start, stop int) {
		for ii := start; ii < stop; ii++ {
			output[ii] = input[ii] + scalar
		}
	})
}

func scalarAddFloat16(tiler *tiling.Tiler, inputAny, outputAny any, value float64) {
	input, output := inputAny.([]float16.Float16), outputAny.([]float16.Float16)
	scalar := float32(value)
	tiler.For(len(input), func(start, stop int) {
		for ii := start; ii < stop; ii++ {
			output[ii] = float16.Fromfloat32(input[ii].Float32() + scalar)
		}
	})
}

var scalarAddTable = newDTypeTable[scalarAddFn]("scalar_add").
	withNumeric(numericFns[scalarAddFn]{
		Int8: scalarAddNumeric[int8], Int16: scalarAddNumeric[int16], Int32: scalarAddNumeric[int32], Int64: scalarAddNumeric[int64],
		Uint8: scalarAddNumeric[uint8], Uint16: scalarAddNumeric[uint16], Uint32: scalarAddNumeric[uint32], Uint64: scalarAddNumeric[uint64],
		Float32: scalarAddNumeric[float32], Float64: scalarAddNumeric[float64],
		Float16: scalarAddFloat16,
	})

// registerScalarAdd registers "scalar_add": output = input + TArg 0. It can run in-place.
// For integer dtypes the scalar is truncated.
func registerScalarAdd(r *ops.Registry) error {
	return ops.Define("scalar_add").
		Inputs(1).InputTypes(scalarAddTable.supported()...).
		Outputs(1).Inplace().TArgs(1).
		Shape(ops.SameAsInput(0)).
		Kernel(func(ctx *ops.Context) error {
			add, err := scalarAddTable.get(ctx.Input(0).DType())
			if err != nil {
				return err
			}
			add(ctx.Tiler(), ctx.Input(0).Flat(), ctx.Output(0).Flat(), ctx.TArg(0, 0))
			return nil
		}).
		Register(r)
}
