// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"flag"
	"os"
	"sync/atomic"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/internal/workerspool"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/memory"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(m.Run())
}

// copyKernel copies input 0 into output 0.
func copyKernel(ctx *Context) error {
	return ctx.Output(0).CopyFrom(ctx.Input(0))
}

func defineCopy(name string) *Builder {
	return Define(name).Inputs(1).Outputs(1).Shape(SameAsInput(0)).Kernel(copyKernel)
}

func newTestContext(t *testing.T) (*Context, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger()
	pool := workerspool.New()
	pool.SetMaxParallelism(4)
	return NewContext(tiling.New(pool, 1), memory.NewAllocator(ledger, true)), ledger
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, defineCopy("stack").Synonyms("pack", "Pack").Register(r))
	require.Equal(t, 1, r.Len())

	for _, name := range []string{"stack", "pack", "Pack"} {
		op, err := r.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, "stack", op.Name())
	}

	// Duplicate name or synonym.
	err := defineCopy("stack").Register(r)
	require.ErrorIs(t, err, ErrDuplicateName)
	err = defineCopy("other").Synonyms("pack").Register(r)
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = r.Resolve("other")
	require.ErrorIs(t, err, ErrUnknownOperation, "failed registration must not leave partial entries")

	// Unknown.
	_, err = r.Resolve("nonexistent")
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.Equal(t, StatusUnknownOperation, StatusOf(err))

	// Synonyms.
	require.ErrorIs(t, r.RegisterSynonym("nonexistent", "alias"), ErrUnknownOperation)
	require.NoError(t, r.RegisterSynonym("pack", "concat_new_axis"))
	require.ErrorIs(t, r.RegisterSynonym("stack", "Pack"), ErrDuplicateName)
	op, err := r.Resolve("concat_new_axis")
	require.NoError(t, err)
	assert.Equal(t, "stack", op.Name())
	synonyms, err := r.Synonyms("Pack")
	require.NoError(t, err)
	assert.Equal(t, []string{"pack", "Pack", "concat_new_axis"}, synonyms)

	// Hash.
	op, err = r.ResolveHash(HashName("Pack"))
	require.NoError(t, err)
	assert.Equal(t, "stack", op.Name())
	assert.Equal(t, op.Hash(), HashName("stack"))
	_, err = r.ResolveHash(HashName("nonexistent"))
	require.ErrorIs(t, err, ErrUnknownOperation)

	require.NoError(t, defineCopy("identity").Register(r))
	assert.Equal(t, []string{"identity", "stack"}, r.Names())
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	registrarA := func(r *Registry) error { return defineCopy("a").Register(r) }
	registrarB := func(r *Registry) error { return defineCopy("b").Register(r) }
	require.NoError(t, r.Initialize(registrarA, registrarB))
	assert.True(t, r.IsSealed())
	assert.Equal(t, 2, r.Len())

	require.ErrorIs(t, defineCopy("c").Register(r), ErrRegistrySealed)
	require.ErrorIs(t, r.RegisterSynonym("a", "aa"), ErrRegistrySealed)
	require.ErrorIs(t, r.Initialize(), ErrRegistrySealed)

	r.Shutdown()
	assert.False(t, r.IsSealed())
	assert.Equal(t, 0, r.Len())
	_, err := r.Resolve("a")
	require.ErrorIs(t, err, ErrUnknownOperation)

	// Failing registrar: error returned, registry not sealed.
	err = r.Initialize(registrarA, registrarA)
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.False(t, r.IsSealed())
}

func TestBuilder(t *testing.T) {
	_, err := Define("").Kernel(copyKernel).Build()
	require.Error(t, err)
	_, err = Define("x").Build()
	require.ErrorContains(t, err, "no kernel")
	_, err = Define("x").Inputs(-1).Kernel(copyKernel).Build()
	require.Error(t, err)
	_, err = Define("x").Synonyms("x").Kernel(copyKernel).Build()
	require.Error(t, err)
	_, err = Define("x").Kernel(copyKernel).ListKernel(func(*Context) ([]*tensors.Tensor, error) { return nil, nil }).Build()
	require.Error(t, err)
	_, err = Define("x").Shape(SameAsInput(0)).ListKernel(func(*Context) ([]*tensors.Tensor, error) { return nil, nil }).Build()
	require.Error(t, err)

	op, err := Define("scalar_add").Inputs(1).Outputs(1).Inplace().TArgs(1).
		InputTypes(dtypes.Float32).Shape(SameAsInput(0)).Kernel(copyKernel).Build()
	require.NoError(t, err)
	assert.Equal(t, "scalar_add(inputs=1, outputs>=1, targs>=1, inplace)", op.String())
	desc := op.Descriptor()
	desc.AllowedInputTypes[0] = dtypes.Int8
	assert.Equal(t, dtypes.Float32, op.Descriptor().AllowedInputTypes[0], "Descriptor must return a copy")
	assert.Equal(t, KindCustom, op.Kind())
}

func TestExecute_ArgumentCount(t *testing.T) {
	op, err := defineCopy("copy").Build()
	require.NoError(t, err)
	ctx, ledger := newTestContext(t)
	preset := tensors.FromFlat([]float32{1, 2, 3}, 3)
	ctx.SetOutputs(preset)

	err = op.Execute(ctx)
	require.ErrorIs(t, err, ErrArgumentCount)
	assert.Equal(t, StatusBadInput, StatusOf(err))
	assert.NotEqual(t, StatusOK, StatusOf(err))
	assert.Same(t, preset, ctx.Output(0))
	assert.Equal(t, []float32{1, 2, 3}, tensors.Flat[float32](preset))
	assert.Equal(t, 0, ledger.Len())

	// Too many inputs for a non-configurable operation.
	x := tensors.FromFlat([]float32{4, 5, 6}, 3)
	ctx.SetInputs(x, x)
	require.ErrorIs(t, op.Execute(ctx), ErrArgumentCount)

	// No output slots.
	ctx.SetInputs(x).SetOutputs()
	err = op.Execute(ctx)
	require.ErrorIs(t, err, ErrArgumentCount)
	assert.Equal(t, StatusBadOutput, StatusOf(err))

	// Nil input.
	ctx.SetInputs(nil).SetNumOutputs(1)
	require.ErrorIs(t, op.Execute(ctx), ErrArgumentCount)

	// Everything right.
	ctx.SetInputs(x).SetOutputs(preset)
	require.NoError(t, op.Execute(ctx))
	assert.Equal(t, []float32{4, 5, 6}, tensors.Flat[float32](preset))
}

func TestExecute_ParallelFill(t *testing.T) {
	const extent = 1000
	counts := make([]atomic.Int32, extent)
	op, err := Define("fill").Outputs(1).
		Shape(func(*Context) ([]shapes.Shape, error) {
			return []shapes.Shape{shapes.Make(dtypes.Int32, extent)}, nil
		}).
		Kernel(func(ctx *Context) error {
			out := tensors.Flat[int32](ctx.Output(0))
			ctx.Tiler().For(extent, func(start, stop int) {
				for ii := start; ii < stop; ii++ {
					counts[ii].Add(1)
					out[ii] = int32(ii)
				}
			})
			return nil
		}).Build()
	require.NoError(t, err)

	ctx, ledger := newTestContext(t)
	outputs, err := op.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	for ii := range extent {
		require.Equal(t, int32(1), counts[ii].Load(), "index %d", ii)
		require.Equal(t, int32(ii), tensors.Flat[int32](outputs[0])[ii])
	}
	assert.True(t, outputs[0].IsTracked())
	assert.Equal(t, 1, ledger.Len())

	// Taken outputs are not released by the context.
	require.NoError(t, ctx.Release())
	assert.False(t, outputs[0].IsFinalized())
	require.NoError(t, outputs[0].Finalize())
	require.NoError(t, memory.CheckLeaks(ledger))
}

func TestExecute_DeviceFault(t *testing.T) {
	op, err := Define("faulty").Inputs(1).Outputs(1).Shape(SameAsInput(0)).
		Kernel(func(ctx *Context) error {
			ctx.ErrorReference().SetError(7, "device fault")
			return nil
		}).Build()
	require.NoError(t, err)

	ctx, ledger := newTestContext(t)
	ctx.SetInputs(tensors.FromFlat([]float64{1}, 1)).SetNumOutputs(1)
	err = op.Execute(ctx)
	require.Error(t, err)
	var exc *device.Exception
	require.True(t, errors.As(err, &exc))
	assert.Contains(t, exc.Error(), "device fault")
	assert.Contains(t, exc.Error(), "7")
	assert.Equal(t, StatusKernelFailure, StatusOf(err))
	assert.False(t, ctx.ErrorReference().Pending(), "the fault must be consumed")

	// Outputs allocated for the failed execution are released, and the slot is empty again.
	assert.Nil(t, ctx.Output(0))
	require.NoError(t, memory.CheckLeaks(ledger))
}

func TestExecute_KernelFailures(t *testing.T) {
	errKernel := errors.New("kernel bug")
	for _, tc := range []struct {
		name   string
		kernel KernelFn
		status Status
	}{
		{"error", func(*Context) error { return errKernel }, StatusKernelFailure},
		{"panic", func(*Context) error { panic("boom") }, StatusKernelFailure},
		{"validation", func(ctx *Context) error { return ValidateInputRank(ctx, 3) }, StatusBadRank},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var scratch *tensors.Tensor
			op, err := Define(tc.name).Inputs(1).Outputs(1).Shape(SameAsInput(0)).
				Kernel(func(ctx *Context) error {
					var err error
					scratch, err = ctx.Scratch(shapes.Make(dtypes.Float32, 10))
					if err != nil {
						return err
					}
					return tc.kernel(ctx)
				}).Build()
			require.NoError(t, err)
			ctx, ledger := newTestContext(t)
			ctx.SetInputs(tensors.FromFlat([]float32{1, 2}, 2)).SetNumOutputs(1)
			err = op.Execute(ctx)
			require.Error(t, err)
			assert.Equal(t, tc.status, StatusOf(err))
			var opErr *Error
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, tc.name, opErr.Op)
			require.NotNil(t, scratch)
			assert.True(t, scratch.IsFinalized(), "scratch must be released on failure")
			require.NoError(t, memory.CheckLeaks(ledger))
		})
	}
}

func TestExecute_Scratch(t *testing.T) {
	var scratch *tensors.Tensor
	op, err := defineCopy("copy").Build()
	require.NoError(t, err)
	op.kernel = func(ctx *Context) error {
		var err error
		scratch, err = ctx.Scratch(shapes.Make(dtypes.Int64, 100))
		if err != nil {
			return err
		}
		return copyKernel(ctx)
	}
	ctx, ledger := newTestContext(t)
	ctx.SetInputs(tensors.FromFlat([]int64{1, 2}, 2)).SetNumOutputs(1)
	require.NoError(t, op.Execute(ctx))
	assert.True(t, scratch.IsFinalized())
	assert.Equal(t, 1, ledger.Len(), "only the output remains")
	require.NoError(t, ctx.Release())
	assert.Nil(t, ctx.Output(0))
	require.NoError(t, memory.CheckLeaks(ledger))
}

func TestExecute_Arguments(t *testing.T) {
	op, err := Define("scalar_add").Inputs(1).Outputs(1).Inplace().TArgs(1).
		InputTypes(dtypes.Float32).Shape(SameAsInput(0)).
		Kernel(func(ctx *Context) error {
			in, out := tensors.Flat[float32](ctx.Input(0)), tensors.Flat[float32](ctx.Output(0))
			for ii := range in {
				out[ii] = in[ii] + float32(ctx.TArg(0, 0))
			}
			return nil
		}).Build()
	require.NoError(t, err)
	x := tensors.FromFlat([]float32{1, 2, 3}, 3)

	ctx, _ := newTestContext(t)
	ctx.SetInputs(x).SetNumOutputs(1)
	err = op.Execute(ctx)
	require.ErrorIs(t, err, ErrBadArguments)
	assert.Equal(t, StatusBadArguments, StatusOf(err))

	// Wrong dtype.
	ctx.SetInputs(tensors.FromFlat([]int32{1}, 1)).SetTArgs(1)
	err = op.Execute(ctx)
	require.ErrorIs(t, err, ErrDTypeMismatch)
	assert.Contains(t, err.Error(), "Expected: [Float32]; Actual: [Int32]")

	// In-place: the output is the input itself.
	ctx.SetInputs(x).SetTArgs(10).SetInplace(true).SetNumOutputs(1)
	require.NoError(t, op.Execute(ctx))
	assert.Same(t, x, ctx.Output(0))
	assert.Equal(t, []float32{11, 12, 13}, tensors.Flat[float32](x))

	// Wrong shape given by the caller.
	ctx.SetInplace(false).SetOutputs(tensors.FromFlat([]float32{0, 0}, 2))
	err = op.Execute(ctx)
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, StatusBadShape, StatusOf(err))

	// In-place not allowed.
	copyOp, err := defineCopy("copy").Build()
	require.NoError(t, err)
	ctx.SetInplace(true).SetNumOutputs(1)
	err = copyOp.Execute(ctx)
	require.ErrorIs(t, err, ErrBadArguments)
	assert.Equal(t, StatusBadParams, StatusOf(err))
}

func TestExecute_ListCommit(t *testing.T) {
	// split returns one tensor per element of its input, and allocates one extra tensor it doesn't return.
	var leftover *tensors.Tensor
	op, err := Define("split").Inputs(1).Outputs(1).
		ListKernel(func(ctx *Context) ([]*tensors.Tensor, error) {
			in := tensors.Flat[float32](ctx.Input(0))
			results := make([]*tensors.Tensor, len(in))
			for ii, v := range in {
				scalar, err := ctx.Allocate(shapes.Make(dtypes.Float32))
				if err != nil {
					return nil, err
				}
				tensors.Flat[float32](scalar)[0] = v
				results[ii] = scalar
			}
			var err error
			leftover, err = ctx.Allocate(shapes.Make(dtypes.Float32, 5))
			return results, err
		}).Build()
	require.NoError(t, err)
	assert.Equal(t, KindList, op.Kind())

	ctx, ledger := newTestContext(t)
	ctx.SetInputs(tensors.FromFlat([]float32{1, 2, 3}, 3))
	outputs, err := op.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	for ii, output := range outputs {
		assert.Equal(t, float32(ii+1), tensors.ToScalar[float32](output))
		require.NoError(t, output.Finalize())
	}
	assert.True(t, leftover.IsFinalized(), "uncommitted tensors must be released")
	require.NoError(t, memory.CheckLeaks(ledger))

	// Returning less than the minimum is an error, and nothing leaks.
	ctx.SetInputs(tensors.FromFlat([]float32{}, 0))
	err = op.Execute(ctx)
	require.ErrorIs(t, err, ErrArgumentCount)
	assert.Equal(t, StatusBadOutput, StatusOf(err))
	require.NoError(t, memory.CheckLeaks(ledger))
}

func TestValidationHelpers(t *testing.T) {
	ctx := NewContext(nil, nil)
	a := tensors.FromFlat([]float32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlat([]float32{1, 2, 3, 4}, 4)
	c := tensors.FromFlat([]int32{1, 2, 3, 4}, 2, 2)
	empty := tensors.FromFlat([]float32{}, 0, 2)

	ctx.SetInputs(a, b)
	require.NoError(t, ValidateInputLengthMatch(ctx))
	assert.Equal(t, StatusBadDimensions, StatusOf(ValidateInputDimensionsMatch(ctx)))
	assert.Equal(t, StatusBadRank, StatusOf(ValidateInputRank(ctx, 2)))
	require.NoError(t, ValidateNonEmptyInput(ctx))
	require.NoError(t, ValidateInputDTypesMatch(ctx))

	ctx.SetInputs(a, c)
	require.NoError(t, ValidateInputDimensionsMatch(ctx))
	assert.Equal(t, StatusValidation, StatusOf(ValidateInputDTypesMatch(ctx)))

	ctx.SetInputs(a, empty)
	assert.Equal(t, StatusBadInput, StatusOf(ValidateNonEmptyInput(ctx)))
	assert.Equal(t, StatusBadLength, StatusOf(ValidateInputLengthMatch(ctx)))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "BadDimensions", StatusBadDimensions.String())
	assert.Equal(t, "UnknownOperation", StatusUnknownOperation.String())
	assert.Equal(t, "Status(7)", Status(7).String())
	status, err := StatusString("kernelfailure")
	require.NoError(t, err)
	assert.Equal(t, StatusKernelFailure, status)
	assert.Equal(t, 50, int(StatusKernelFailure))

	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.True(t, StatusOf(nil).Ok())
	assert.Equal(t, StatusBadShape, StatusOf(errors.Wrap(ErrShapeMismatch, "x")))
	assert.Equal(t, StatusKernelFailure, StatusOf(errors.New("other")))
	err = &Error{Op: "eye", Status: StatusBadParams, Err: errors.New("bad")}
	assert.Equal(t, `operation "eye" failed with status BadParams (4): bad`, err.Error())
}

func TestExecute_ShapePanics(t *testing.T) {
	for _, tc := range []struct {
		name    string
		shapeFn ShapeFn
	}{
		{"index", func(ctx *Context) ([]shapes.Shape, error) {
			return []shapes.Shape{ctx.Input(3).Shape()}, nil
		}},
		{"value", func(*Context) ([]shapes.Shape, error) { panic("bad shape") }},
		{"error", func(*Context) ([]shapes.Shape, error) { panic(errors.New("bad shape")) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			op, err := Define(tc.name).Inputs(1).Outputs(1).Shape(tc.shapeFn).Kernel(copyKernel).Build()
			require.NoError(t, err)
			ctx, ledger := newTestContext(t)
			ctx.SetInputs(tensors.FromFlat([]float32{1, 2}, 2)).SetNumOutputs(2)
			require.NotPanics(t, func() { err = op.Execute(ctx) })
			require.Error(t, err)
			assert.Equal(t, StatusBadShape, StatusOf(err))
			assert.ErrorContains(t, err, "preparing outputs panicked")
			assert.Equal(t, 2, ctx.NumOutputs())
			assert.Nil(t, ctx.Output(0))
			assert.Nil(t, ctx.Output(1))
			require.NoError(t, memory.CheckLeaks(ledger))
		})
	}

	// Caller-provided output is kept on failure.
	op, err := Define("late_panic").Inputs(1).Outputs(1).
		Shape(func(ctx *Context) ([]shapes.Shape, error) {
			if ctx.NumOutputs() > 0 && ctx.Output(0) != nil {
				panic("bad shape")
			}
			return []shapes.Shape{ctx.Input(0).Shape()}, nil
		}).Kernel(copyKernel).Build()
	require.NoError(t, err)
	ctx, ledger := newTestContext(t)
	output := tensors.FromFlat([]float32{7, 7}, 2)
	ctx.SetInputs(tensors.FromFlat([]float32{1, 2}, 2)).SetOutputs(output)
	err = op.Execute(ctx)
	assert.Equal(t, StatusBadShape, StatusOf(err))
	assert.Same(t, output, ctx.Output(0))
	assert.False(t, output.IsFinalized())
	assert.Equal(t, []float32{7, 7}, tensors.Flat[float32](output))
	require.NoError(t, memory.CheckLeaks(ledger))
}

func TestExecute_OutputSizeOverflow(t *testing.T) {
	op, err := Define("huge").Inputs(1).Outputs(1).
		Shape(func(*Context) ([]shapes.Shape, error) {
			return []shapes.Shape{shapes.Make(dtypes.Float32, 1<<32, 1<<32)}, nil
		}).Kernel(copyKernel).Build()
	require.NoError(t, err)
	ctx, ledger := newTestContext(t)
	ctx.SetInputs(tensors.FromFlat([]float32{1}, 1)).SetNumOutputs(1)
	err = op.Execute(ctx)
	require.ErrorIs(t, err, shapes.ErrSizeOverflow)
	assert.Equal(t, StatusBadShape, StatusOf(err))
	assert.Nil(t, ctx.Output(0))
	require.NoError(t, memory.CheckLeaks(ledger))
}

func TestBooleanKernel(t *testing.T) {
	allPositive := func(ctx *Context) (bool, error) {
		for _, v := range tensors.Flat[float32](ctx.Input(0)) {
			if v <= 0 {
				return false, nil
			}
		}
		return true, nil
	}
	op, err := Define("all_positive").Inputs(1).InputTypes(dtypes.Float32).BooleanKernel(allPositive).Build()
	require.NoError(t, err)
	assert.Equal(t, KindBoolean, op.Kind())
	assert.Equal(t, 1, op.Descriptor().MinOutputs)

	for _, tc := range []struct {
		values []float32
		want   bool
	}{
		{[]float32{1, 2, 3}, true},
		{[]float32{1, -2, 3}, false},
	} {
		ctx, ledger := newTestContext(t)
		ctx.SetInputs(tensors.FromFlat(tc.values, len(tc.values)))
		got, err := op.Verify(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		require.Equal(t, 1, ctx.NumOutputs())
		assert.Equal(t, dtypes.Bool, ctx.Output(0).DType())
		assert.Equal(t, 0, ctx.Output(0).Rank())
		assert.Equal(t, tc.want, tensors.ToScalar[bool](ctx.Output(0)))
		require.NoError(t, ctx.Release())
		require.NoError(t, memory.CheckLeaks(ledger))
	}

	// Kernel errors are returned, not reported as false.
	errCheck := errors.New("cannot check")
	failing, err := Define("failing_check").Inputs(1).
		BooleanKernel(func(*Context) (bool, error) { return false, errCheck }).Build()
	require.NoError(t, err)
	ctx, ledger := newTestContext(t)
	ctx.SetInputs(tensors.FromFlat([]float32{1}, 1))
	_, err = failing.Verify(ctx)
	require.ErrorIs(t, err, errCheck)
	assert.Equal(t, StatusKernelFailure, StatusOf(err))
	assert.Nil(t, ctx.Output(0))
	require.NoError(t, memory.CheckLeaks(ledger))

	// Verify only accepts boolean operations.
	copyOp, err := defineCopy("copy").Build()
	require.NoError(t, err)
	ctx, _ = newTestContext(t)
	ctx.SetInputs(tensors.FromFlat([]float32{1}, 1)).SetNumOutputs(1)
	_, err = copyOp.Verify(ctx)
	require.ErrorIs(t, err, ErrBadArguments)
	assert.Equal(t, StatusValidation, StatusOf(err))

	// Boolean operations can't configure their outputs.
	_, err = Define("x").Outputs(2).BooleanKernel(allPositive).Build()
	require.Error(t, err)
	_, err = Define("x").OutputTypes(dtypes.Int32).BooleanKernel(allPositive).Build()
	require.Error(t, err)
	_, err = Define("x").Shape(SameAsInput(0)).BooleanKernel(allPositive).Build()
	require.Error(t, err)
	_, err = Define("x").Kernel(copyKernel).BooleanKernel(allPositive).Build()
	require.ErrorContains(t, err, "only one of Kernel, ListKernel or BooleanKernel")
}

func TestRegisterHelper(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, defineCopy("copy").Synonyms("identity").Register(r))
	require.NoError(t, Define("split").ListKernel(func(*Context) ([]*tensors.Tensor, error) { return nil, nil }).Register(r))
	helper := &Helper{Op: "identity", Platform: "host", Kernel: copyKernel}

	require.Error(t, r.RegisterHelper(nil))
	require.Error(t, r.RegisterHelper(&Helper{Op: "copy", Kernel: copyKernel}))
	require.Error(t, r.RegisterHelper(&Helper{Op: "copy", Platform: "host"}))
	require.ErrorIs(t, r.RegisterHelper(&Helper{Op: "nonexistent", Platform: "host", Kernel: copyKernel}), ErrUnknownOperation)
	require.ErrorContains(t, r.RegisterHelper(&Helper{Op: "split", Platform: "host", Kernel: copyKernel}), "cannot have platform helpers")
	require.NoError(t, r.RegisterHelper(helper))
	require.ErrorIs(t, r.RegisterHelper(&Helper{Op: "copy", Platform: "host", Kernel: copyKernel}), ErrDuplicateName)
	require.NoError(t, r.RegisterHelper(&Helper{Op: "copy", Platform: "webgpu", Kernel: copyKernel}))
	assert.Equal(t, 2, r.NumHelpers())
	assert.Same(t, helper, r.Helper(HashName("copy"), "host"))
	assert.Nil(t, r.Helper(HashName("copy"), "other"))

	r.Shutdown()
	assert.Equal(t, 0, r.NumHelpers())
	require.NoError(t, r.Initialize(func(r *Registry) error { return defineCopy("copy").Register(r) }))
	require.ErrorIs(t, r.RegisterHelper(helper), ErrRegistrySealed)
	assert.Nil(t, r.Helper(HashName("copy"), "host"))
}

func TestExecute_Helper(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, defineCopy("copy").Register(r))
	var helperCalls atomic.Int32
	require.NoError(t, r.RegisterHelper(&Helper{
		Op:       "copy",
		Platform: "host",
		IsUsable: func(ctx *Context) bool { return ctx.Input(0).DType() == dtypes.Float32 },
		Kernel: func(ctx *Context) error {
			helperCalls.Add(1)
			return copyKernel(ctx)
		},
	}))
	op, err := r.Resolve("copy")
	require.NoError(t, err)

	run := func(ctx *Context, input *tensors.Tensor) {
		t.Helper()
		ctx.SetInputs(input).SetNumOutputs(1)
		require.NoError(t, op.Execute(ctx))
		assert.Equal(t, input.Flat(), ctx.Output(0).Flat())
		require.NoError(t, ctx.Release())
	}

	ctx, ledger := newTestContext(t)
	assert.Equal(t, "", ctx.Platform())
	run(ctx, tensors.FromFlat([]float32{1, 2}, 2))
	assert.False(t, ctx.UsedHelper(), "contexts without a platform use the default kernel")

	ctx.SetPlatform(r, "host")
	assert.Equal(t, "host", ctx.Platform())
	run(ctx, tensors.FromFlat([]float32{1, 2}, 2))
	assert.True(t, ctx.UsedHelper())
	assert.Equal(t, int32(1), helperCalls.Load())

	run(ctx, tensors.FromFlat([]int32{1, 2}, 2))
	assert.False(t, ctx.UsedHelper(), "helper not usable for Int32")

	ctx.SetUseHelpers(false)
	run(ctx, tensors.FromFlat([]float32{1, 2}, 2))
	assert.False(t, ctx.UsedHelper())

	ctx.SetUseHelpers(true).SetPlatform(r, "webgpu")
	run(ctx, tensors.FromFlat([]float32{1, 2}, 2))
	assert.False(t, ctx.UsedHelper(), "no helper for the platform")
	assert.Equal(t, int32(1), helperCalls.Load())
	require.NoError(t, memory.CheckLeaks(ledger))
}
