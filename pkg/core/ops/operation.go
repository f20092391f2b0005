// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Operation is a registered unit of computation: its Descriptor plus the functions that
// implement it. It is immutable and safe for concurrent use: all per-invocation state lives
// in the Context.
type Operation struct {
	desc       Descriptor
	shapeFn    ShapeFn
	kernel     KernelFn
	listKernel ListKernelFn
}

// Name returns the canonical name of the operation.
func (op *Operation) Name() string { return op.desc.Name }

// Descriptor returns a copy of the operation's descriptor.
func (op *Operation) Descriptor() Descriptor { return op.desc.clone() }

// Kind of the operation.
func (op *Operation) Kind() Kind { return op.desc.Kind }

// Hash of the operation name, see HashName.
func (op *Operation) Hash() uint64 { return op.desc.Hash() }

// String implements fmt.Stringer.
func (op *Operation) String() string { return op.desc.String() }

// statusOr returns the status carried by err if it is an *Error or one of the package's sentinel
// errors, and fallback otherwise.
func statusOr(err error, fallback Status) Status {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Status
	}
	if status := statusForSentinel(err); status != StatusKernelFailure {
		return status
	}
	return fallback
}

// Execute runs the operation on ctx. It blocks until the kernel, including any parallel loop it
// starts, completes. On failure, it returns an *Error with the Status, and the context's output
// slots are left as they were before the call.
//
// The steps, failing fast at the first error:
//
//  1. Input and output counts (ErrArgumentCount).
//  2. Scalar arguments and in-place permission (ErrBadArguments).
//  3. Input dtypes (ErrDTypeMismatch).
//  4. Output shapes: computed with the operation's shape function, and then the empty output
//     slots are allocated (or take their input, if in-place), and the filled ones validated (ErrShapeMismatch).
//  5. The kernel. A panic in the kernel is converted to an error.
//  6. The device error reference: a pending fault is returned as a *device.Exception with StatusKernelFailure.
//  7. For KindList operations, the returned tensors are committed as the outputs.
//
// For KindCustom and KindBoolean operations, a platform helper (see Context.SetPlatform) runs
// instead of the kernel in step 5 if it is usable for ctx.
//
// Scratch tensors are released whatever the outcome, and so are the tensors allocated by the
// context during a failed execution.
func (op *Operation) Execute(ctx *Context) (err error) {
	name := op.desc.Name
	ctx.opName = name
	ctx.usedHelper = false
	if klog.V(2).Enabled() {
		klog.Infof("executing %q on %s", name, ctx)
	}
	defer func() { ctx.opName = "" }()

	if err = op.validateCounts(ctx); err != nil {
		return err
	}
	if err = op.validateArguments(ctx); err != nil {
		return err
	}
	if err = op.validateInputTypes(ctx); err != nil {
		return err
	}

	savedOutputs := slices.Clone(ctx.outputs)
	ownedMark := ctx.numOwned()
	defer func() {
		if scratchErr := ctx.releaseScratch(); scratchErr != nil && err == nil {
			err = newError(name, StatusKernelFailure, errors.WithMessage(scratchErr, "releasing scratch tensors"))
		}
		if err != nil {
			if releaseErr := ctx.releaseOwnedFrom(ownedMark, nil); releaseErr != nil {
				klog.Warningf("operation %q: failed to release outputs after failure: %+v", name, releaseErr)
			}
			ctx.outputs = savedOutputs
		}
	}()

	if op.desc.Kind == KindList {
		return op.executeList(ctx, ownedMark)
	}
	if err = op.tryPrepareOutputs(ctx); err != nil {
		return err
	}
	return op.runKernel(ctx, func() error { return op.selectKernel(ctx)(ctx) })
}

// Verify executes a KindBoolean operation and returns its result. The scalar Bool output is left
// in ctx, like with Execute. An execution failure is returned as an error, never as false.
func (op *Operation) Verify(ctx *Context) (bool, error) {
	if op.desc.Kind != KindBoolean {
		return false, newError(op.desc.Name, StatusValidation, errors.Wrapf(ErrBadArguments,
			"Verify requires a boolean operation, %q is %s", op.desc.Name, op.desc.Kind))
	}
	if ctx.NumOutputs() < 1 {
		ctx.SetNumOutputs(1)
	}
	if err := op.Execute(ctx); err != nil {
		return false, err
	}
	return tensors.ToScalar[bool](ctx.Output(0)), nil
}

// panicToError runs fn and converts a panic into an error prefixed with what.
func panicToError(what string, fn func() error) (err error) {
	if exception := exceptions.Try(func() { err = fn() }); exception != nil {
		if excErr, ok := exception.(error); ok {
			return errors.WithMessage(excErr, what+" panicked")
		}
		return errors.Errorf("%s panicked: %v", what, exception)
	}
	return err
}

// tryPrepareOutputs is prepareOutputs with panics (in the shape function or while allocating)
// reported as StatusBadShape.
func (op *Operation) tryPrepareOutputs(ctx *Context) error {
	err := panicToError("preparing outputs", func() error { return op.prepareOutputs(ctx) })
	return newError(op.desc.Name, StatusBadShape, err)
}

// Evaluate executes the operation and returns its outputs, whose ownership is transferred to the
// caller. If ctx has fewer output slots than the operation's minimum, empty slots are added first.
func (op *Operation) Evaluate(ctx *Context) ([]*tensors.Tensor, error) {
	if op.desc.Kind != KindList && ctx.NumOutputs() < op.desc.MinOutputs {
		ctx.SetNumOutputs(op.desc.MinOutputs)
	}
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return ctx.TakeOutputs(), nil
}

func (op *Operation) validateCounts(ctx *Context) error {
	d := &op.desc
	numInputs := ctx.NumInputs()
	if numInputs < d.MinInputs {
		return newError(d.Name, StatusBadInput, errors.Wrapf(ErrArgumentCount,
			"requires at least %d inputs, got %d", d.MinInputs, numInputs))
	}
	if !d.ConfigurableInputs && numInputs > d.MinInputs {
		return newError(d.Name, StatusBadInput, errors.Wrapf(ErrArgumentCount,
			"requires exactly %d inputs, got %d", d.MinInputs, numInputs))
	}
	if d.Kind != KindList && ctx.NumOutputs() < d.MinOutputs {
		return newError(d.Name, StatusBadOutput, errors.Wrapf(ErrArgumentCount,
			"requires at least %d output slots, got %d", d.MinOutputs, ctx.NumOutputs()))
	}
	for ii, input := range ctx.inputs {
		if input == nil {
			return newError(d.Name, StatusBadInput, errors.Wrapf(ErrArgumentCount, "input #%d is nil", ii))
		}
		if input.IsFinalized() {
			return newError(d.Name, StatusBadInput, errors.Wrapf(tensors.ErrFinalized, "input #%d", ii))
		}
	}
	return nil
}

func (op *Operation) validateArguments(ctx *Context) error {
	d := &op.desc
	if len(ctx.tArgs) < d.MinTArgs {
		return newError(d.Name, StatusBadArguments, errors.Wrapf(ErrBadArguments,
			"requires at least %d TArgs, got %d", d.MinTArgs, len(ctx.tArgs)))
	}
	if len(ctx.iArgs) < d.MinIArgs {
		return newError(d.Name, StatusBadArguments, errors.Wrapf(ErrBadArguments,
			"requires at least %d IArgs, got %d", d.MinIArgs, len(ctx.iArgs)))
	}
	if ctx.inplace && !d.InplaceAllowed {
		return newError(d.Name, StatusBadParams, errors.Wrap(ErrBadArguments, "in-place execution not allowed"))
	}
	return nil
}

func (op *Operation) validateInputTypes(ctx *Context) error {
	d := &op.desc
	for ii, input := range ctx.inputs {
		if !d.AcceptsInputType(input.DType()) {
			dtypeErr := device.BuildDTypeError(fmt.Sprintf("input #%d has unsupported dtype", ii), d.AllowedInputTypes[0], input.DType())
			return newError(d.Name, StatusValidation, errors.Wrapf(ErrDTypeMismatch, "%s (accepted dtypes: %v)",
				dtypeErr, d.AllowedInputTypes))
		}
	}
	return nil
}

// prepareOutputs computes the output shapes, fills the empty slots and validates the given ones.
func (op *Operation) prepareOutputs(ctx *Context) error {
	d := &op.desc
	var outputShapes []shapes.Shape
	if op.shapeFn != nil {
		var err error
		outputShapes, err = op.shapeFn(ctx)
		if err != nil {
			return newError(d.Name, statusOr(err, StatusBadShape), errors.WithMessage(err, "computing output shapes"))
		}
		if len(outputShapes) < d.MinOutputs {
			return newError(d.Name, StatusBadShape, errors.Wrapf(ErrShapeMismatch,
				"shape function returned %d shapes, at least %d outputs required", len(outputShapes), d.MinOutputs))
		}
		for ii, shape := range outputShapes {
			if err := shape.CheckSize(); err != nil {
				return newError(d.Name, StatusBadShape, errors.WithMessagef(err, "output #%d", ii))
			}
		}
		if len(outputShapes) > ctx.NumOutputs() {
			ctx.SetNumOutputs(len(outputShapes))
		}
	}

	for ii, slot := range ctx.outputs {
		var want *shapes.Shape
		if ii < len(outputShapes) {
			want = &outputShapes[ii]
		}
		if slot == nil {
			if want == nil {
				return newError(d.Name, StatusBadOutput, errors.Wrapf(ErrArgumentCount,
					"output slot #%d is empty and the operation doesn't define its shape", ii))
			}
			if ctx.inplace && ii < ctx.NumInputs() {
				slot = ctx.inputs[ii]
				if !slot.Shape().Equal(*want) {
					return newError(d.Name, StatusBadShape, errors.Wrapf(ErrShapeMismatch,
						"in-place output #%d must have shape %s, but input has shape %s", ii, *want, slot.Shape()))
				}
			} else {
				var err error
				slot, err = ctx.Allocate(*want)
				if err != nil {
					return newError(d.Name, StatusBadOutput, errors.WithMessagef(err, "allocating output #%d", ii))
				}
			}
			ctx.outputs[ii] = slot
		} else {
			if slot.IsFinalized() {
				return newError(d.Name, StatusBadOutput, errors.Wrapf(tensors.ErrFinalized, "output #%d", ii))
			}
			if want != nil && !slot.Shape().Equal(*want) {
				return newError(d.Name, StatusBadShape, errors.Wrapf(ErrShapeMismatch,
					"output #%d has shape %s, expected %s", ii, slot.Shape(), *want))
			}
		}
		if err := op.validateOutputType(ii, slot); err != nil {
			return err
		}
	}
	return nil
}

func (op *Operation) validateOutputType(ii int, output *tensors.Tensor) error {
	d := &op.desc
	if d.AcceptsOutputType(output.DType()) {
		return nil
	}
	dtypeErr := device.BuildDTypeError(fmt.Sprintf("output #%d has unsupported dtype", ii), d.AllowedOutputTypes[0], output.DType())
	return newError(d.Name, StatusValidation, errors.Wrapf(ErrDTypeMismatch, "%s (accepted dtypes: %v)",
		dtypeErr, d.AllowedOutputTypes))
}

// runKernel runs body, converting panics to errors, and then checks the device error reference.
func (op *Operation) runKernel(ctx *Context, body func() error) error {
	name := op.desc.Name
	bodyErr := panicToError("kernel", body)
	if faultErr := device.Check(ctx.ErrorReference(), name); faultErr != nil {
		if bodyErr != nil {
			klog.V(1).Infof("operation %q: kernel error superseded by device fault: %v", name, bodyErr)
		}
		return &Error{Op: name, Status: StatusKernelFailure, Err: faultErr}
	}
	if bodyErr != nil {
		return newError(name, statusOr(bodyErr, StatusKernelFailure), bodyErr)
	}
	return nil
}

// executeList runs a KindList kernel and commits the tensors it returns as the outputs.
// Tensors allocated by the kernel through the context and not returned are released.
func (op *Operation) executeList(ctx *Context, ownedMark int) error {
	d := &op.desc
	var results []*tensors.Tensor
	if err := op.runKernel(ctx, func() error {
		var err error
		results, err = op.listKernel(ctx)
		return err
	}); err != nil {
		return err
	}
	if len(results) < d.MinOutputs {
		return newError(d.Name, StatusBadOutput, errors.Wrapf(ErrArgumentCount,
			"list kernel returned %d tensors, at least %d required", len(results), d.MinOutputs))
	}
	for ii, result := range results {
		if result == nil || result.IsFinalized() {
			return newError(d.Name, StatusBadOutput, errors.Errorf("list kernel returned an invalid tensor at #%d", ii))
		}
		if err := op.validateOutputType(ii, result); err != nil {
			return err
		}
	}
	ctx.outputs = slices.Clone(results)
	if err := ctx.releaseOwnedFrom(ownedMark, results); err != nil {
		return newError(d.Name, StatusKernelFailure, errors.WithMessage(err, "releasing uncommitted tensors"))
	}
	return nil
}
