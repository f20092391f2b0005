// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements the minimal host-backed Tensor used as inputs and outputs of
// operations.
//
// A Tensor created with New is tracked: its allocation is recorded in a memory.Ledger through a
// memory.Allocator, and it must be finalized to release it. Tensors created from Go values
// (FromFlat, FromScalar) are borrowed and untracked.
//
// Device tensors are emulated on the host: their storage is a Go slice as well, but they are
// accounted as memory.MemoryTypeDevice.
package tensors

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/memory"
	"github.com/gomlx/opcore/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ErrFinalized is returned when operating on a tensor after Finalize.
var ErrFinalized = errors.New("tensor already finalized")

// Tensor is a multi-dimensional array stored flat, in row-major order.
//
// It is not safe to mutate its contents concurrently, except for disjoint ranges of the flat
// slice, which is what parallel kernels do.
type Tensor struct {
	shape    shapes.Shape
	affinity device.Affinity

	mu   sync.Mutex
	flat any // []T, with T the Go type of shape.DType. nil once finalized.

	// Tracking, only if allocator != nil.
	allocator *memory.Allocator
	memType   memory.MemoryType
	handle    memory.Handle
}

// MemoryTypeFor returns the memory type used for tensors with the given affinity.
func MemoryTypeFor(affinity device.Affinity) memory.MemoryType {
	if affinity.IsHost() {
		return memory.MemoryTypeHost
	}
	return memory.MemoryTypeDevice
}

// New allocates a zero-initialized tensor with the given shape and affinity.
//
// If alloc is not nil, the allocation is recorded, and it may fail (e.g. a memory limit).
// If alloc is nil the tensor is untracked.
func New(alloc *memory.Allocator, affinity device.Affinity, shape shapes.Shape) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("cannot create tensor with invalid shape %s", shape)
	}
	if err := shape.CheckSize(); err != nil {
		return nil, errors.WithMessage(err, "cannot create tensor")
	}
	t := &Tensor{shape: shape.Clone(), affinity: affinity, allocator: alloc, memType: MemoryTypeFor(affinity)}
	if alloc != nil {
		handle, err := alloc.Allocate(t.memType, shape.Memory())
		if err != nil {
			return nil, errors.WithMessagef(err, "allocating tensor %s on %s", shape, affinity)
		}
		t.handle = handle
	}
	size := shape.Size()
	t.flat = reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface()
	return t, nil
}

// FromFlat creates an untracked host tensor that uses flat as its storage (it is not copied).
// It panics if len(flat) doesn't match the dimensions.
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if err := shape.CheckSize(); err != nil {
		panic(errors.WithMessage(err, "tensors.FromFlat"))
	}
	if shape.Size() != len(flat) {
		exceptions.Panicf("tensors.FromFlat: flat data has %d elements, but shape %s requires %d", len(flat), shape, shape.Size())
	}
	return &Tensor{shape: shape, affinity: device.Host, flat: flat}
}

// FromScalar creates an untracked host scalar tensor.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlat([]T{value})
}

// Shape of the tensor. The returned shape must not be modified.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Affinity returns where the tensor lives.
func (t *Tensor) Affinity() device.Affinity { return t.affinity }

// IsTracked returns whether the tensor allocation is recorded in a ledger.
func (t *Tensor) IsTracked() bool { return t.allocator != nil }

// Handle returns the ledger handle of a tracked tensor, or 0 if untracked.
func (t *Tensor) Handle() memory.Handle { return t.handle }

// IsFinalized returns whether Finalize was called.
func (t *Tensor) IsFinalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flat == nil
}

// Flat returns the flat storage as an `any` holding a []T, or nil if finalized.
func (t *Tensor) Flat() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flat
}

// Flat returns the typed flat storage of t. It panics if T doesn't match the tensor's dtype,
// or if the tensor was finalized.
func Flat[T dtypes.Supported](t *Tensor) []T {
	flatAny := t.Flat()
	if flatAny == nil {
		exceptions.Panicf("tensors.Flat[%T]: %v", *new(T), ErrFinalized)
	}
	flat, ok := flatAny.([]T)
	if !ok {
		exceptions.Panicf("tensors.Flat[%T]: tensor has dtype %s", *new(T), t.DType())
	}
	return flat
}

// ToScalar returns the first element of t: the value itself for scalars.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	return Flat[T](t)[0]
}

// Finalize releases the tensor storage, and its ledger entry if tracked.
// Calling it more than once returns ErrFinalized.
func (t *Tensor) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flat == nil {
		return errors.Wrapf(ErrFinalized, "tensor %s", t.shape)
	}
	t.flat = nil
	if t.allocator != nil {
		return t.allocator.Release(t.memType, t.handle)
	}
	return nil
}

// CopyFrom copies the contents of src into t. Shapes must be equal.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return errors.Errorf("cannot copy tensor %s into tensor %s", src.shape, t.shape)
	}
	srcFlat, dstFlat := src.Flat(), t.Flat()
	if srcFlat == nil || dstFlat == nil {
		return errors.WithStack(ErrFinalized)
	}
	reflect.Copy(reflect.ValueOf(dstFlat), reflect.ValueOf(srcFlat))
	return nil
}

// Clone returns a copy of t, allocated with alloc (nil for untracked) on the same affinity.
func (t *Tensor) Clone(alloc *memory.Allocator) (*Tensor, error) {
	clone, err := New(alloc, t.affinity, t.shape)
	if err != nil {
		return nil, err
	}
	if err = clone.CopyFrom(t); err != nil {
		_ = clone.Finalize()
		return nil, err
	}
	return clone, nil
}

// Equal returns whether both tensors have the same shape and contents.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	return reflect.DeepEqual(t.Flat(), other.Flat())
}

// String implements fmt.Stringer. Large tensors are abbreviated.
func (t *Tensor) String() string {
	flat := t.Flat()
	if flat == nil {
		return fmt.Sprintf("%s: finalized", t.shape)
	}
	const maxElements = 16
	flatV := reflect.ValueOf(flat)
	if flatV.Len() > maxElements {
		return fmt.Sprintf("%s: %v...", t.shape, flatV.Slice(0, maxElements).Interface())
	}
	return fmt.Sprintf("%s: %v", t.shape, flat)
}
