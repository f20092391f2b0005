// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/ops"
)

// registerHostHelpers registers the host platform helpers. They must be registered after the
// operations they implement.
func registerHostHelpers(r *ops.Registry) error {
	return r.RegisterHelper(&ops.Helper{
		Op:       "scalar_add",
		Platform: device.HostProbeName,
		IsUsable: func(ctx *ops.Context) bool {
			return ctx.Input(0).DType() == dtypes.Float32 && ctx.Input(0).Size() >= unrollBy
		},
		Kernel: scalarAddFloat32Unrolled,
	})
}

const unrollBy = 8

// scalarAddFloat32Unrolled is scalar_add for Float32, processing unrollBy elements per iteration.
func scalarAddFloat32Unrolled(ctx *ops.Context) error {
	input := ctx.Input(0).Flat().([]float32)
	output := ctx.Output(0).Flat().([]float32)
	scalar := float32(ctx.TArg(0, 0))
	ctx.Tiler().For(len(input), func(start, stop int) {
		ii := start
		for ; ii+unrollBy <= stop; ii += unrollBy {
			in, out := input[ii:ii+unrollBy:ii+unrollBy], output[ii:ii+unrollBy:ii+unrollBy]
			out[0] = in[0] + scalar
			out[1] = in[1] + scalar
			out[2] = in[2] + scalar
			out[3] = in[3] + scalar
			out[4] = in[4] + scalar
			out[5] = in[5] + scalar
			out[6] = in[6] + scalar
			out[7] = in[7] + scalar
		}
		for ; ii < stop; ii++ {
			output[ii] = input[ii] + scalar
		}
	})
	return nil
}
