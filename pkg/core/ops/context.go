// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/memory"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context is the argument bundle of one operation invocation: inputs, output slots, scalar
// arguments and the device affinity.
//
// Inputs are borrowed: the context never finalizes them. Output slots either hold tensors given by
// the caller, or are empty (nil) and get allocated by the dispatch. Tensors allocated by the context
// are owned by it until the caller takes them with TakeOutputs; Release frees the ones not taken.
//
// A Context is not safe for concurrent configuration, but kernels may call Allocate and Scratch
// from parallel partitions.
type Context struct {
	id uuid.UUID

	inputs  []*tensors.Tensor
	outputs []*tensors.Tensor

	tArgs []float64
	iArgs []int64
	bArgs []bool
	dArgs []dtypes.DType

	affinity device.Affinity
	inplace  bool

	errRef    device.ErrorReference
	tiler     *tiling.Tiler
	allocator *memory.Allocator

	// Platform helpers, see SetPlatform.
	helpers    *Registry
	platform   string
	useHelpers bool
	usedHelper bool

	// opName is set by the dispatch while executing.
	opName string

	mu sync.Mutex
	// owned are the tensors allocated through this context and not yet taken or released.
	owned []*tensors.Tensor
	// scratch tensors are released by the dispatch when the execution ends.
	scratch []*tensors.Tensor
}

// NewContext creates an empty Context with host affinity.
//
// tiler is used by kernels for parallel loops: if nil a sequential one is used. alloc tracks the
// tensors allocated by the context: if nil they are untracked.
func NewContext(tiler *tiling.Tiler, alloc *memory.Allocator) *Context {
	if tiler == nil {
		tiler = tiling.New(nil, 1)
	}
	return &Context{
		id:        uuid.New(),
		affinity:  device.Host,
		tiler:     tiler,
		allocator: alloc,
	}
}

// ID uniquely identifies the context, for logging.
func (ctx *Context) ID() uuid.UUID { return ctx.id }

// String implements fmt.Stringer.
func (ctx *Context) String() string {
	return fmt.Sprintf("Context[%s](%d inputs, %d outputs, %s)", ctx.id, len(ctx.inputs), len(ctx.outputs), ctx.affinity)
}

// SetInputs replaces the inputs. It returns the context itself, so calls can be chained.
func (ctx *Context) SetInputs(inputs ...*tensors.Tensor) *Context {
	ctx.inputs = slices.Clone(inputs)
	return ctx
}

// AddInput appends one input.
func (ctx *Context) AddInput(input *tensors.Tensor) *Context {
	ctx.inputs = append(ctx.inputs, input)
	return ctx
}

// SetOutputs replaces the output slots with tensors given by the caller. nil entries are empty
// slots, to be allocated by the dispatch.
func (ctx *Context) SetOutputs(outputs ...*tensors.Tensor) *Context {
	ctx.outputs = slices.Clone(outputs)
	return ctx
}

// SetNumOutputs resizes the output slots to n. New slots are empty.
func (ctx *Context) SetNumOutputs(n int) *Context {
	if n <= len(ctx.outputs) {
		ctx.outputs = ctx.outputs[:n]
		return ctx
	}
	ctx.outputs = append(ctx.outputs, make([]*tensors.Tensor, n-len(ctx.outputs))...)
	return ctx
}

// SetTArgs sets the float arguments.
func (ctx *Context) SetTArgs(args ...float64) *Context {
	ctx.tArgs = slices.Clone(args)
	return ctx
}

// SetIArgs sets the integer arguments.
func (ctx *Context) SetIArgs(args ...int64) *Context {
	ctx.iArgs = slices.Clone(args)
	return ctx
}

// SetBArgs sets the boolean arguments.
func (ctx *Context) SetBArgs(args ...bool) *Context {
	ctx.bArgs = slices.Clone(args)
	return ctx
}

// SetDArgs sets the dtype arguments.
func (ctx *Context) SetDArgs(args ...dtypes.DType) *Context {
	ctx.dArgs = slices.Clone(args)
	return ctx
}

// SetAffinity sets where outputs are allocated and where the kernel runs.
func (ctx *Context) SetAffinity(affinity device.Affinity) *Context {
	ctx.affinity = affinity
	return ctx
}

// SetInplace requests in-place execution: empty output slots take the corresponding input.
func (ctx *Context) SetInplace(inplace bool) *Context {
	ctx.inplace = inplace
	return ctx
}

// SetPlatform makes the dispatch look for platform helpers in r registered for platform (a
// device probe name), and use them when usable. A nil r disables helpers.
func (ctx *Context) SetPlatform(r *Registry, platform string) *Context {
	ctx.helpers = r
	ctx.platform = platform
	ctx.useHelpers = r != nil
	return ctx
}

// SetUseHelpers enables or disables platform helpers, for instance to compare them with the
// default kernels. It has no effect if no platform was set.
func (ctx *Context) SetUseHelpers(use bool) *Context {
	ctx.useHelpers = use && ctx.helpers != nil
	return ctx
}

// Platform returns the platform set with SetPlatform.
func (ctx *Context) Platform() string { return ctx.platform }

// UsedHelper returns whether the last execution ran a platform helper instead of the default kernel.
func (ctx *Context) UsedHelper() bool { return ctx.usedHelper }

// NumInputs returns the number of inputs.
func (ctx *Context) NumInputs() int { return len(ctx.inputs) }

// Input returns the input ii.
func (ctx *Context) Input(ii int) *tensors.Tensor { return ctx.inputs[ii] }

// Inputs returns the inputs. The slice must not be modified.
func (ctx *Context) Inputs() []*tensors.Tensor { return ctx.inputs }

// NumOutputs returns the number of output slots.
func (ctx *Context) NumOutputs() int { return len(ctx.outputs) }

// Output returns the tensor in output slot ii, nil if the slot is empty.
func (ctx *Context) Output(ii int) *tensors.Tensor { return ctx.outputs[ii] }

// Outputs returns the output slots. The slice must not be modified.
func (ctx *Context) Outputs() []*tensors.Tensor { return ctx.outputs }

// TArgs returns the float arguments.
func (ctx *Context) TArgs() []float64 { return ctx.tArgs }

// IArgs returns the integer arguments.
func (ctx *Context) IArgs() []int64 { return ctx.iArgs }

// BArgs returns the boolean arguments.
func (ctx *Context) BArgs() []bool { return ctx.bArgs }

// DArgs returns the dtype arguments.
func (ctx *Context) DArgs() []dtypes.DType { return ctx.dArgs }

// TArg returns float argument ii, or defaultValue if not given.
func (ctx *Context) TArg(ii int, defaultValue float64) float64 {
	if ii < len(ctx.tArgs) {
		return ctx.tArgs[ii]
	}
	return defaultValue
}

// IArg returns integer argument ii, or defaultValue if not given.
func (ctx *Context) IArg(ii int, defaultValue int64) int64 {
	if ii < len(ctx.iArgs) {
		return ctx.iArgs[ii]
	}
	return defaultValue
}

// DArg returns dtype argument ii, or defaultValue if not given.
func (ctx *Context) DArg(ii int, defaultValue dtypes.DType) dtypes.DType {
	if ii < len(ctx.dArgs) {
		return ctx.dArgs[ii]
	}
	return defaultValue
}

// Affinity returns the device affinity.
func (ctx *Context) Affinity() device.Affinity { return ctx.affinity }

// IsInplace returns whether in-place execution was requested.
func (ctx *Context) IsInplace() bool { return ctx.inplace }

// ErrorReference used by device kernels to report faults. The dispatch checks it after the kernel
// returns.
func (ctx *Context) ErrorReference() *device.ErrorReference { return &ctx.errRef }

// Tiler to use for parallel loops.
func (ctx *Context) Tiler() *tiling.Tiler { return ctx.tiler }

// Allocator used by the context, it may be nil.
func (ctx *Context) Allocator() *memory.Allocator { return ctx.allocator }

// OpName returns the name of the operation being executed, or "" outside an execution.
func (ctx *Context) OpName() string { return ctx.opName }

// Allocate a tensor with the context's affinity. The context owns it until it is taken as an
// output (TakeOutputs) or released (Release).
func (ctx *Context) Allocate(shape shapes.Shape) (*tensors.Tensor, error) {
	t, err := tensors.New(ctx.allocator, ctx.affinity, shape)
	if err != nil {
		return nil, err
	}
	ctx.mu.Lock()
	ctx.owned = append(ctx.owned, t)
	ctx.mu.Unlock()
	return t, nil
}

// Scratch allocates a temporary tensor, released when the current execution ends, whatever the
// outcome.
func (ctx *Context) Scratch(shape shapes.Shape) (*tensors.Tensor, error) {
	t, err := tensors.New(ctx.allocator, ctx.affinity, shape)
	if err != nil {
		return nil, err
	}
	ctx.mu.Lock()
	ctx.scratch = append(ctx.scratch, t)
	ctx.mu.Unlock()
	return t, nil
}

// releaseScratch finalizes all scratch tensors.
func (ctx *Context) releaseScratch() error {
	ctx.mu.Lock()
	scratch := ctx.scratch
	ctx.scratch = nil
	ctx.mu.Unlock()
	var firstErr error
	for _, t := range scratch {
		if err := t.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// numOwned returns how many tensors the context currently owns, used to roll back allocations
// of a failed execution.
func (ctx *Context) numOwned() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return len(ctx.owned)
}

// releaseOwnedFrom finalizes the owned tensors from position start on, except those in keep.
func (ctx *Context) releaseOwnedFrom(start int, keep []*tensors.Tensor) error {
	ctx.mu.Lock()
	var toRelease []*tensors.Tensor
	kept := slices.Clone(ctx.owned[:start])
	for _, t := range ctx.owned[start:] {
		if slices.Contains(keep, t) {
			kept = append(kept, t)
		} else {
			toRelease = append(toRelease, t)
		}
	}
	ctx.owned = kept
	ctx.mu.Unlock()

	var firstErr error
	for _, t := range toRelease {
		if t.IsFinalized() {
			continue
		}
		if err := t.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TakeOutputs returns the output slots and transfers the ownership of the output tensors allocated
// by the context to the caller, who becomes responsible for finalizing them.
func (ctx *Context) TakeOutputs() []*tensors.Tensor {
	outputs := slices.Clone(ctx.outputs)
	ctx.mu.Lock()
	ctx.owned = slices.DeleteFunc(ctx.owned, func(t *tensors.Tensor) bool {
		return slices.Contains(outputs, t)
	})
	ctx.mu.Unlock()
	return outputs
}

// Release finalizes every tensor owned by the context (outputs not taken, and leftovers), and
// empties the output slots that held them. Inputs and tensors given by the caller are untouched.
func (ctx *Context) Release() error {
	ctx.mu.Lock()
	owned := ctx.owned
	ctx.owned = nil
	ctx.mu.Unlock()
	for ii, t := range ctx.outputs {
		if slices.Contains(owned, t) {
			ctx.outputs[ii] = nil
		}
	}
	var firstErr error
	for _, t := range owned {
		if t.IsFinalized() {
			continue
		}
		if err := t.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := ctx.releaseScratch(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errors.WithMessagef(firstErr, "releasing %s", ctx)
	}
	klog.V(3).Infof("released %d tensors of %s", len(owned), ctx)
	return nil
}
