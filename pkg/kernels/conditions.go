// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/x448/float16"
)

// isIncreasingFn returns whether flat (a []T) is non-decreasing, or strictly increasing if strict,
// in row-major order.
type isIncreasingFn func(tiler *tiling.Tiler, flat any, strict bool) bool

func isIncreasingNumeric[T numeric](tiler *tiling.Tiler, flatAny any, strict bool) bool {
	flat := flatAny.([]T)
	return isIncreasing(tiler, len(flat), func(ii int) bool {
		if strict {
			return flat[ii] < flat[ii+1]
		}
		return flat[ii] <= flat[ii+1]
	})
}

func isIncreasingFloat16(tiler *tiling.Tiler, flatAny any, strict bool) bool {
	flat := flatAny.([]float16.Float16)
	return isIncreasing(tiler, len(flat), func(ii int) bool {
		a, b := flat[ii].Float32(), flat[ii+1].Float32()
		if strict {
			return a < b
		}
		return a <= b
	})
}

// isIncreasing checks ordered(ii) for every consecutive pair (ii, ii+1) of a sequence of length n.
func isIncreasing(tiler *tiling.Tiler, n int, ordered func(ii int) bool) bool {
	if n < 2 {
		return true
	}
	return tiling.Reduce(tiler, n-1, true, func(start, stop int) bool {
		for ii := start; ii < stop; ii++ {
			if !ordered(ii) {
				return false
			}
		}
		return true
	}, func(a, b bool) bool { return a && b })
}

var isIncreasingTable = newDTypeTable[isIncreasingFn]("is_increasing").
	withNumeric(numericFns[isIncreasingFn]{
		Int8: isIncreasingNumeric[int8], Int16: isIncreasingNumeric[int16], Int32: isIncreasingNumeric[int32], Int64: isIncreasingNumeric[int64],
		Uint8: isIncreasingNumeric[uint8], Uint16: isIncreasingNumeric[uint16], Uint32: isIncreasingNumeric[uint32], Uint64: isIncreasingNumeric[uint64],
		Float32: isIncreasingNumeric[float32], Float64: isIncreasingNumeric[float64],
		Float16: isIncreasingFloat16,
	})

// registerConditions registers the boolean operations "is_non_decreasing" and
// "is_strictly_increasing": whether the elements of the input, in row-major order, are sorted.
// Empty and single-element inputs are sorted.
func registerConditions(r *ops.Registry) error {
	for _, strict := range []bool{false, true} {
		name := "is_non_decreasing"
		if strict {
			name = "is_strictly_increasing"
		}
		err := ops.Define(name).
			Inputs(1).InputTypes(isIncreasingTable.supported()...).
			BooleanKernel(func(ctx *ops.Context) (bool, error) {
				input := ctx.Input(0)
				check, err := isIncreasingTable.get(input.DType())
				if err != nil {
					return false, err
				}
				return check(ctx.Tiler(), input.Flat(), strict), nil
			}).
			Register(r)
		if err != nil {
			return err
		}
	}
	return nil
}
