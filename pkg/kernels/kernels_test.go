// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"flag"
	"os"
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/internal/workerspool"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/memory"
	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(m.Run())
}

type testEnv struct {
	registry *ops.Registry
	tiler    *tiling.Tiler
	ledger   *memory.Ledger
	alloc    *memory.Allocator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	r := ops.NewRegistry()
	require.NoError(t, r.Initialize(Register))
	pool := workerspool.New()
	pool.SetMaxParallelism(4)
	ledger := memory.NewLedger()
	return &testEnv{registry: r, tiler: tiling.New(pool, 2), ledger: ledger, alloc: memory.NewAllocator(ledger, false)}
}

func (e *testEnv) newContext() *ops.Context { return ops.NewContext(e.tiler, e.alloc) }

// eval executes name on ctx and returns its outputs, which the test must finalize.
func (e *testEnv) eval(t *testing.T, name string, ctx *ops.Context) []*tensors.Tensor {
	t.Helper()
	op, err := e.registry.Resolve(name)
	require.NoError(t, err)
	outputs, err := op.Evaluate(ctx)
	require.NoError(t, err, "executing %q", name)
	return outputs
}

// evalErr executes name on ctx, and returns the status of the expected failure.
func (e *testEnv) evalErr(t *testing.T, name string, ctx *ops.Context) ops.Status {
	t.Helper()
	op, err := e.registry.Resolve(name)
	require.NoError(t, err)
	_, err = op.Evaluate(ctx)
	require.Error(t, err, "executing %q", name)
	return ops.StatusOf(err)
}

func (e *testEnv) finalize(t *testing.T, outputs ...*tensors.Tensor) {
	t.Helper()
	for _, output := range outputs {
		require.NoError(t, output.Finalize())
	}
	require.NoError(t, memory.CheckLeaks(e.ledger))
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, []string{"eye", "iota", "is_non_decreasing", "is_strictly_increasing", "scalar_add", "stack", "unstack"},
		e.registry.Names())
	assert.Equal(t, 1, e.registry.NumHelpers())
	for _, name := range []string{"pack", "Pack"} {
		op, err := e.registry.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, "stack", op.Name())
	}
	require.ErrorIs(t, Register(e.registry), ops.ErrRegistrySealed)
	require.NoError(t, Register(ops.NewRegistry()))
}

func TestEye(t *testing.T) {
	e := newTestEnv(t)

	out := e.eval(t, "eye", e.newContext().SetIArgs(3))[0]
	assert.Equal(t, []int{3, 3}, out.Shape().Dimensions)
	assert.Equal(t, []float32{1, 0, 0, 0, 1, 0, 0, 0, 1}, tensors.Flat[float32](out))
	e.finalize(t, out)

	out = e.eval(t, "eye", e.newContext().SetIArgs(2, 3).SetDArgs(dtypes.Int32))[0]
	assert.Equal(t, []int{2, 3}, out.Shape().Dimensions)
	assert.Equal(t, []int32{1, 0, 0, 0, 1, 0}, tensors.Flat[int32](out))
	e.finalize(t, out)

	// Batched: dims [3, 2] of matrices 2x2.
	out = e.eval(t, "eye", e.newContext().SetIArgs(2, 2, 3, 2).SetDArgs(dtypes.Float64))[0]
	assert.Equal(t, []int{3, 2, 2, 2}, out.Shape().Dimensions)
	flat := tensors.Flat[float64](out)
	for ii := range 6 {
		assert.Equal(t, []float64{1, 0, 0, 1}, flat[ii*4:(ii+1)*4])
	}
	e.finalize(t, out)

	// Dimensions given as inputs.
	out = e.eval(t, "eye", e.newContext().SetInputs(tensors.FromFlat([]int64{3}, 1), tensors.FromScalar(int32(2))))[0]
	assert.Equal(t, []int{3, 2}, out.Shape().Dimensions)
	assert.Equal(t, []float32{1, 0, 0, 1, 0, 0}, tensors.Flat[float32](out))
	e.finalize(t, out)

	out = e.eval(t, "eye", e.newContext().SetIArgs(2).SetDArgs(dtypes.Float16))[0]
	assert.Equal(t, float32(1), tensors.Flat[float16.Float16](out)[3].Float32())
	assert.Equal(t, float32(0), tensors.Flat[float16.Float16](out)[1].Float32())
	e.finalize(t, out)

	// Empty.
	out = e.eval(t, "eye", e.newContext().SetIArgs(0))[0]
	assert.Equal(t, 0, out.Size())
	e.finalize(t, out)

	assert.Equal(t, ops.StatusBadArguments, e.evalErr(t, "eye", e.newContext()))
	assert.Equal(t, ops.StatusBadArguments, e.evalErr(t, "eye", e.newContext().SetIArgs(2, -1)))
	assert.Equal(t, ops.StatusValidation, e.evalErr(t, "eye", e.newContext().SetInputs(tensors.FromScalar(float32(2)))))
	assert.Equal(t, ops.StatusValidation, e.evalErr(t, "eye", e.newContext().SetIArgs(2).SetDArgs(dtypes.Complex64)))

	// Output sizes that don't fit an int are rejected.
	op, err := e.registry.Resolve("eye")
	require.NoError(t, err)
	_, err = op.Evaluate(e.newContext().SetIArgs(1<<32, 1<<32))
	require.ErrorIs(t, err, shapes.ErrSizeOverflow)
	assert.Equal(t, ops.StatusBadShape, ops.StatusOf(err))
	require.NoError(t, memory.CheckLeaks(e.ledger))
}

func TestStack(t *testing.T) {
	e := newTestEnv(t)
	a := tensors.FromFlat([]float32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlat([]float32{5, 6, 7, 8}, 2, 2)

	for _, tc := range []struct {
		name string
		axis int64
		dims []int
		want []float32
	}{
		{"stack", 0, []int{2, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8}},
		{"pack", 1, []int{2, 2, 2}, []float32{1, 2, 5, 6, 3, 4, 7, 8}},
		{"Pack", 2, []int{2, 2, 2}, []float32{1, 5, 2, 6, 3, 7, 4, 8}},
		{"stack", -1, []int{2, 2, 2}, []float32{1, 5, 2, 6, 3, 7, 4, 8}},
		{"stack", -3, []int{2, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8}},
	} {
		out := e.eval(t, tc.name, e.newContext().SetInputs(a, b).SetIArgs(tc.axis))[0]
		assert.Equal(t, tc.dims, out.Shape().Dimensions, "%s axis=%d", tc.name, tc.axis)
		assert.Equal(t, tc.want, tensors.Flat[float32](out), "%s axis=%d", tc.name, tc.axis)
		e.finalize(t, out)
	}

	// Scalars become a vector, and the default axis is 0.
	out := e.eval(t, "stack", e.newContext().SetInputs(tensors.FromScalar(int64(7)), tensors.FromScalar(int64(8)), tensors.FromScalar(int64(9))))[0]
	assert.Equal(t, []int{3}, out.Shape().Dimensions)
	assert.Equal(t, []int64{7, 8, 9}, tensors.Flat[int64](out))
	e.finalize(t, out)

	// Few large blocks: each block copy is itself split in partitions.
	const blockSize = 10_000
	large := make([][]int32, 2)
	for ii := range large {
		large[ii] = make([]int32, blockSize)
		for jj := range blockSize {
			large[ii][jj] = int32(ii*blockSize + jj)
		}
	}
	out = e.eval(t, "stack", e.newContext().SetInputs(tensors.FromFlat(large[0], blockSize), tensors.FromFlat(large[1], blockSize)))[0]
	assert.Equal(t, []int{2, blockSize}, out.Shape().Dimensions)
	for ii, v := range tensors.Flat[int32](out) {
		require.Equal(t, int32(ii), v)
	}
	e.finalize(t, out)

	c := tensors.FromFlat([]float32{1, 2, 3, 4}, 4)
	assert.Equal(t, ops.StatusBadDimensions, e.evalErr(t, "stack", e.newContext().SetInputs(a, c)))
	d := tensors.FromFlat([]int32{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, ops.StatusValidation, e.evalErr(t, "stack", e.newContext().SetInputs(a, d)))
	assert.Equal(t, ops.StatusBadArguments, e.evalErr(t, "stack", e.newContext().SetInputs(a, b).SetIArgs(3)))
	assert.Equal(t, ops.StatusBadInput, e.evalErr(t, "stack", e.newContext()))
	require.NoError(t, memory.CheckLeaks(e.ledger))
}

func TestUnstack(t *testing.T) {
	e := newTestEnv(t)
	x := tensors.FromFlat([]int32{1, 2, 3, 4, 5, 6}, 2, 3)

	parts := e.eval(t, "unstack", e.newContext().SetInputs(x))
	require.Len(t, parts, 2)
	assert.Equal(t, []int32{1, 2, 3}, tensors.Flat[int32](parts[0]))
	assert.Equal(t, []int32{4, 5, 6}, tensors.Flat[int32](parts[1]))
	e.finalize(t, parts...)

	parts = e.eval(t, "unstack", e.newContext().SetInputs(x).SetIArgs(-1))
	require.Len(t, parts, 3)
	for ii, want := range [][]int32{{1, 4}, {2, 5}, {3, 6}} {
		assert.Equal(t, []int{2}, parts[ii].Shape().Dimensions)
		assert.Equal(t, want, tensors.Flat[int32](parts[ii]))
	}

	// stack(unstack(x, axis), axis) == x
	restored := e.eval(t, "stack", e.newContext().SetInputs(parts...).SetIArgs(1))[0]
	assert.True(t, restored.Equal(x))
	e.finalize(t, append(parts, restored)...)

	// Zero-size axis returns no tensors.
	parts = e.eval(t, "unstack", e.newContext().SetInputs(tensors.FromFlat([]float32{}, 0, 3)))
	assert.Empty(t, parts)

	assert.Equal(t, ops.StatusBadShape, e.evalErr(t, "unstack", e.newContext().SetInputs(tensors.FromScalar(float32(1)))))
	assert.Equal(t, ops.StatusBadArguments, e.evalErr(t, "unstack", e.newContext().SetInputs(x).SetIArgs(2)))
	require.NoError(t, memory.CheckLeaks(e.ledger))
}

func TestIota(t *testing.T) {
	e := newTestEnv(t)

	out := e.eval(t, "iota", e.newContext().SetIArgs(2, 3))[0]
	assert.Equal(t, dtypes.Int64, out.DType())
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, tensors.Flat[int64](out))
	e.finalize(t, out)

	out = e.eval(t, "iota", e.newContext())[0]
	assert.Equal(t, 0, out.Rank())
	assert.Equal(t, int64(0), tensors.ToScalar[int64](out))
	e.finalize(t, out)

	out = e.eval(t, "iota", e.newContext().SetIArgs(4).SetDArgs(dtypes.Float16))[0]
	assert.Equal(t, float32(3), tensors.Flat[float16.Float16](out)[3].Float32())
	e.finalize(t, out)

	const size = 10_000
	out = e.eval(t, "iota", e.newContext().SetIArgs(size).SetDArgs(dtypes.Float32))[0]
	flat := tensors.Flat[float32](out)
	for ii := range size {
		require.Equal(t, float32(ii), flat[ii])
	}
	e.finalize(t, out)

	assert.Equal(t, ops.StatusBadArguments, e.evalErr(t, "iota", e.newContext().SetIArgs(-1)))
	assert.Equal(t, ops.StatusValidation, e.evalErr(t, "iota", e.newContext().SetDArgs(dtypes.Bool)))
	assert.Equal(t, ops.StatusBadShape, e.evalErr(t, "iota", e.newContext().SetIArgs(1<<62, 4)))
	require.NoError(t, memory.CheckLeaks(e.ledger))
}

func TestScalarAdd(t *testing.T) {
	e := newTestEnv(t)

	x := tensors.FromFlat([]float32{1, 2, 3}, 3)
	out := e.eval(t, "scalar_add", e.newContext().SetInputs(x).SetTArgs(1.5))[0]
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, tensors.Flat[float32](out))
	assert.Equal(t, []float32{1, 2, 3}, tensors.Flat[float32](x))
	e.finalize(t, out)

	out = e.eval(t, "scalar_add", e.newContext().SetInputs(tensors.FromFlat([]int32{1, 2}, 2)).SetTArgs(2.9))[0]
	assert.Equal(t, []int32{3, 4}, tensors.Flat[int32](out))
	e.finalize(t, out)

	h := tensors.FromFlat([]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(-1)}, 2)
	out = e.eval(t, "scalar_add", e.newContext().SetInputs(h).SetTArgs(0.5))[0]
	assert.Equal(t, float32(1.5), tensors.Flat[float16.Float16](out)[0].Float32())
	assert.Equal(t, float32(-0.5), tensors.Flat[float16.Float16](out)[1].Float32())
	e.finalize(t, out)

	// In-place: the input is updated, and no allocation happens.
	outputs := e.eval(t, "scalar_add", e.newContext().SetInputs(x).SetTArgs(-1).SetInplace(true))
	assert.Same(t, x, outputs[0])
	assert.Equal(t, []float32{0, 1, 2}, tensors.Flat[float32](x))
	assert.Equal(t, 0, e.ledger.Len())

	assert.Equal(t, ops.StatusBadArguments, e.evalErr(t, "scalar_add", e.newContext().SetInputs(x)))
	assert.Equal(t, ops.StatusValidation, e.evalErr(t, "scalar_add", e.newContext().SetInputs(tensors.FromScalar(true)).SetTArgs(1)))
}

func TestScalarAdd_HostHelper(t *testing.T) {
	e := newTestEnv(t)
	const size = 1003
	input := make([]float32, size)
	for ii := range input {
		input[ii] = float32(ii)
	}
	x := tensors.FromFlat(input, size)

	op, err := e.registry.Resolve("scalar_add")
	require.NoError(t, err)
	var results [2][]float32
	for ii, useHelpers := range []bool{true, false} {
		ctx := e.newContext().SetPlatform(e.registry, device.HostProbeName).SetUseHelpers(useHelpers).SetInputs(x).SetTArgs(0.5)
		outputs, err := op.Evaluate(ctx)
		require.NoError(t, err)
		assert.Equal(t, useHelpers, ctx.UsedHelper())
		results[ii] = slices.Clone(tensors.Flat[float32](outputs[0]))
		e.finalize(t, outputs...)
	}
	assert.Equal(t, results[1], results[0])
	assert.Equal(t, float32(1002.5), results[0][size-1])

	// Not usable for other dtypes, or too small inputs.
	for _, input := range []*tensors.Tensor{tensors.FromFlat([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 8), tensors.FromFlat([]float32{1, 2}, 2)} {
		ctx := e.newContext().SetPlatform(e.registry, device.HostProbeName).SetInputs(input).SetTArgs(1)
		outputs, err := op.Evaluate(ctx)
		require.NoError(t, err)
		assert.False(t, ctx.UsedHelper(), "input %s", input.Shape())
		e.finalize(t, outputs...)
	}

	// Other platforms don't have the helper.
	ctx := e.newContext().SetPlatform(e.registry, "webgpu").SetInputs(x).SetTArgs(1)
	outputs, err := op.Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, ctx.UsedHelper())
	e.finalize(t, outputs...)
}

func TestConditions(t *testing.T) {
	e := newTestEnv(t)
	verify := func(name string, input *tensors.Tensor) bool {
		t.Helper()
		op, err := e.registry.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, ops.KindBoolean, op.Kind())
		ctx := e.newContext().SetInputs(input)
		result, err := op.Verify(ctx)
		require.NoError(t, err)
		// The scalar Bool output holds the same result.
		assert.Equal(t, result, tensors.ToScalar[bool](ctx.Output(0)))
		require.NoError(t, ctx.Release())
		return result
	}

	sorted := tensors.FromFlat([]int32{1, 2, 2, 5}, 4)
	assert.True(t, verify("is_non_decreasing", sorted))
	assert.False(t, verify("is_strictly_increasing", sorted))
	assert.True(t, verify("is_strictly_increasing", tensors.FromFlat([]float64{-1, 0, 0.5}, 3)))
	assert.False(t, verify("is_non_decreasing", tensors.FromFlat([]float32{1, 3, 2, 4}, 2, 2)))
	assert.True(t, verify("is_strictly_increasing", tensors.FromFlat([]float32{}, 0)))
	assert.True(t, verify("is_non_decreasing", tensors.FromScalar(uint8(7))))

	h := tensors.FromFlat([]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(0.5)}, 2)
	assert.False(t, verify("is_non_decreasing", h))

	// Large inputs are checked in parallel partitions: one unordered pair anywhere is enough.
	large := make([]int64, 10_000)
	for ii := range large {
		large[ii] = int64(ii)
	}
	assert.True(t, verify("is_strictly_increasing", tensors.FromFlat(large, len(large))))
	large[7777] = 0
	assert.False(t, verify("is_strictly_increasing", tensors.FromFlat(large, len(large))))

	assert.Equal(t, ops.StatusValidation, e.evalErr(t, "is_non_decreasing", e.newContext().SetInputs(tensors.FromScalar(true))))
	assert.Equal(t, ops.StatusBadInput, e.evalErr(t, "is_non_decreasing", e.newContext()))
	require.NoError(t, memory.CheckLeaks(e.ledger))
}
