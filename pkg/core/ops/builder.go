// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ShapeFn computes the shapes of the outputs of a KindCustom operation from the context's inputs
// and arguments. Errors are reported with StatusBadShape, unless they are already an *Error.
type ShapeFn func(ctx *Context) ([]shapes.Shape, error)

// KernelFn is the body of a KindCustom operation: it reads the inputs and writes the already
// allocated outputs.
type KernelFn func(ctx *Context) error

// ListKernelFn is the body of a KindList operation: it returns the tensors that become the
// context's outputs. The returned tensors should be allocated with Context.Allocate.
type ListKernelFn func(ctx *Context) ([]*tensors.Tensor, error)

// BooleanKernelFn is the body of a KindBoolean operation: it returns the condition evaluated on
// the context's inputs.
type BooleanKernelFn func(ctx *Context) (bool, error)

// Builder defines an operation. Create it with Define, configure it with the chained methods
// and finish with Build or Register.
//
// Example:
//
//	err := ops.Define("scalar_add").
//		Inputs(1).Outputs(1).Inplace().TArgs(1).
//		Shape(ops.SameAsInput(0)).
//		Kernel(scalarAdd).
//		Register(registry)
type Builder struct {
	desc       Descriptor
	shapeFn    ShapeFn
	kernel     KernelFn
	listKernel ListKernelFn
	boolKernel BooleanKernelFn
	err        error
}

// Define starts the definition of the operation with the given canonical name.
// By default, it takes no inputs, no outputs and any dtype.
func Define(name string) *Builder {
	b := &Builder{desc: Descriptor{Name: name}}
	if name == "" {
		b.err = errors.New("operation name cannot be empty")
	}
	return b
}

func (b *Builder) setErr(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = errors.Errorf("operation %q: "+format, append([]any{b.desc.Name}, args...)...)
	}
	return b
}

// Synonyms adds alternative names for the operation.
func (b *Builder) Synonyms(names ...string) *Builder {
	for _, name := range names {
		if name == "" {
			return b.setErr("synonym cannot be empty")
		}
		if name == b.desc.Name || slices.Contains(b.desc.Synonyms, name) {
			return b.setErr("synonym %q repeated", name)
		}
		b.desc.Synonyms = append(b.desc.Synonyms, name)
	}
	return b
}

// Inputs sets the minimum number of inputs. Unless ConfigurableInputs is also set, it is also the
// exact number.
func (b *Builder) Inputs(n int) *Builder {
	if n < 0 {
		return b.setErr("negative number of inputs %d", n)
	}
	b.desc.MinInputs = n
	return b
}

// Outputs sets the minimum number of outputs.
func (b *Builder) Outputs(n int) *Builder {
	if n < 0 {
		return b.setErr("negative number of outputs %d", n)
	}
	b.desc.MinOutputs = n
	return b
}

// ConfigurableInputs allows any number of inputs >= the minimum.
func (b *Builder) ConfigurableInputs() *Builder {
	b.desc.ConfigurableInputs = true
	return b
}

// Inplace allows in-place execution: outputs can be the inputs themselves.
func (b *Builder) Inplace() *Builder {
	b.desc.InplaceAllowed = true
	return b
}

// TArgs sets the minimum number of float arguments.
func (b *Builder) TArgs(n int) *Builder {
	if n < 0 {
		return b.setErr("negative number of TArgs %d", n)
	}
	b.desc.MinTArgs = n
	return b
}

// IArgs sets the minimum number of integer arguments.
func (b *Builder) IArgs(n int) *Builder {
	if n < 0 {
		return b.setErr("negative number of IArgs %d", n)
	}
	b.desc.MinIArgs = n
	return b
}

// InputTypes restricts the dtypes accepted for the inputs.
func (b *Builder) InputTypes(dtypeList ...dtypes.DType) *Builder {
	b.desc.AllowedInputTypes = append(b.desc.AllowedInputTypes, dtypeList...)
	return b
}

// OutputTypes restricts the dtypes accepted for the outputs.
func (b *Builder) OutputTypes(dtypeList ...dtypes.DType) *Builder {
	b.desc.AllowedOutputTypes = append(b.desc.AllowedOutputTypes, dtypeList...)
	return b
}

// Shape sets the function that computes the output shapes. Only for KindCustom operations.
func (b *Builder) Shape(fn ShapeFn) *Builder {
	b.shapeFn = fn
	return b
}

// hasKernel returns whether any of the kernel kinds was already set.
func (b *Builder) hasKernel() bool {
	return b.kernel != nil || b.listKernel != nil || b.boolKernel != nil
}

// Kernel sets the body of a KindCustom operation.
func (b *Builder) Kernel(fn KernelFn) *Builder {
	if b.hasKernel() {
		return b.setErr("only one of Kernel, ListKernel or BooleanKernel can be set")
	}
	b.kernel = fn
	b.desc.Kind = KindCustom
	return b
}

// ListKernel sets the body of a KindList operation.
func (b *Builder) ListKernel(fn ListKernelFn) *Builder {
	if b.hasKernel() {
		return b.setErr("only one of Kernel, ListKernel or BooleanKernel can be set")
	}
	b.listKernel = fn
	b.desc.Kind = KindList
	return b
}

// BooleanKernel sets the body of a KindBoolean operation. Its output is always one scalar Bool,
// so Outputs, OutputTypes and Shape must not be set.
func (b *Builder) BooleanKernel(fn BooleanKernelFn) *Builder {
	if b.hasKernel() {
		return b.setErr("only one of Kernel, ListKernel or BooleanKernel can be set")
	}
	b.boolKernel = fn
	b.desc.Kind = KindBoolean
	return b
}

// Build validates the definition and returns the Operation.
func (b *Builder) Build() (*Operation, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasKernel() {
		return nil, errors.Errorf("operation %q has no kernel", b.desc.Name)
	}
	if b.listKernel != nil && b.shapeFn != nil {
		return nil, errors.Errorf("list operation %q cannot have a shape function: its outputs are the tensors it returns", b.desc.Name)
	}
	op := &Operation{
		desc:       b.desc.clone(),
		shapeFn:    b.shapeFn,
		kernel:     b.kernel,
		listKernel: b.listKernel,
	}
	if b.boolKernel != nil {
		if b.shapeFn != nil || b.desc.MinOutputs > 1 || len(b.desc.AllowedOutputTypes) > 0 {
			return nil, errors.Errorf("boolean operation %q always has one scalar Bool output: it cannot configure its outputs", b.desc.Name)
		}
		op.desc.MinOutputs = 1
		op.desc.AllowedOutputTypes = []dtypes.DType{dtypes.Bool}
		op.shapeFn = scalarBoolShape
		boolKernel := b.boolKernel
		op.kernel = func(ctx *Context) error {
			result, err := boolKernel(ctx)
			if err != nil {
				return err
			}
			tensors.Flat[bool](ctx.Output(0))[0] = result
			return nil
		}
	}
	return op, nil
}

// Register builds the operation and registers it in r.
func (b *Builder) Register(r *Registry) error {
	op, err := b.Build()
	if err != nil {
		return err
	}
	return r.Register(op)
}

func scalarBoolShape(*Context) ([]shapes.Shape, error) {
	return []shapes.Shape{shapes.Make(dtypes.Bool)}, nil
}

// SameAsInput returns a ShapeFn with one output shaped like input inputIdx.
func SameAsInput(inputIdx int) ShapeFn {
	return func(ctx *Context) ([]shapes.Shape, error) {
		if inputIdx >= ctx.NumInputs() {
			return nil, errors.Wrapf(ErrArgumentCount, "output shape is the one of input #%d, but only %d inputs given",
				inputIdx, ctx.NumInputs())
		}
		return []shapes.Shape{ctx.Input(inputIdx).Shape()}, nil
	}
}
