// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements a small set of operations on top of the ops dispatch protocol:
//
//   - "eye": identity matrices, optionally batched.
//   - "stack" (synonyms "pack" and "Pack"): joins tensors of equal shape along a new axis.
//   - "unstack": splits a tensor along an axis, returning a list of tensors.
//   - "iota": a tensor filled with 0, 1, 2, ... in row-major order.
//   - "scalar_add": adds a scalar to every element, possibly in-place.
//   - "is_non_decreasing", "is_strictly_increasing": boolean operations checking whether the
//     input is sorted.
//
// It also registers a host platform helper for "scalar_add" on Float32.
//
// Use Register to add them to an ops.Registry, typically through engine.Engine.Initialize.
package kernels

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Register all the operations of the package in r. It implements ops.Registrar.
func Register(r *ops.Registry) error {
	for _, registrar := range []ops.Registrar{registerEye, registerStack, registerUnstack, registerIota, registerScalarAdd,
		registerConditions, registerHostHelpers} {
		if err := registrar(r); err != nil {
			return err
		}
	}
	return nil
}

var _ ops.Registrar = Register

// numeric are the Go types of the numeric dtypes, with native arithmetic.
// Float16 is handled separately.
type numeric interface {
	constraints.Integer | constraints.Float
}

// dtypeTable maps dtypes to the typed implementation F of a kernel.
type dtypeTable[F any] struct {
	name  string
	fns   map[dtypes.DType]F
	order []dtypes.DType
}

func newDTypeTable[F any](name string) *dtypeTable[F] {
	return &dtypeTable[F]{name: name, fns: make(map[dtypes.DType]F)}
}

// with registers fn for dtype, and returns the table itself for chaining.
func (t *dtypeTable[F]) with(dtype dtypes.DType, fn F) *dtypeTable[F] {
	if _, found := t.fns[dtype]; !found {
		t.order = append(t.order, dtype)
	}
	t.fns[dtype] = fn
	return t
}

// get returns the implementation for dtype, or an error wrapping ops.ErrDTypeMismatch.
func (t *dtypeTable[F]) get(dtype dtypes.DType) (F, error) {
	fn, found := t.fns[dtype]
	if !found {
		return fn, errors.Wrapf(ops.ErrDTypeMismatch, "%s: dtype %s not supported, supported dtypes are %v", t.name, dtype, t.order)
	}
	return fn, nil
}

// supported returns the supported dtypes, in registration order.
func (t *dtypeTable[F]) supported() []dtypes.DType { return t.order }

// numericFns holds one instance of a generic kernel per numeric dtype.
type numericFns[F any] struct {
	Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64, Float16 F
}

// withNumeric registers the implementations for all numeric dtypes plus Float16.
func (t *dtypeTable[F]) withNumeric(fns numericFns[F]) *dtypeTable[F] {
	return t.with(dtypes.Int8, fns.Int8).
		with(dtypes.Int16, fns.Int16).
		with(dtypes.Int32, fns.Int32).
		with(dtypes.Int64, fns.Int64).
		with(dtypes.Uint8, fns.Uint8).
		with(dtypes.Uint16, fns.Uint16).
		with(dtypes.Uint32, fns.Uint32).
		with(dtypes.Uint64, fns.Uint64).
		with(dtypes.Float32, fns.Float32).
		with(dtypes.Float64, fns.Float64).
		with(dtypes.Float16, fns.Float16)
}

// intValues returns the contents of an integer tensor as int64.
func intValues(t *tensors.Tensor) ([]int64, error) {
	switch flat := t.Flat().(type) {
	case []int8:
		return toInt64(flat), nil
	case []int16:
		return toInt64(flat), nil
	case []int32:
		return toInt64(flat), nil
	case []int64:
		return toInt64(flat), nil
	case []uint8:
		return toInt64(flat), nil
	case []uint16:
		return toInt64(flat), nil
	case []uint32:
		return toInt64(flat), nil
	case []uint64:
		return toInt64(flat), nil
	}
	return nil, errors.Wrapf(ops.ErrDTypeMismatch, "integer tensor required, got %s", t.Shape())
}

func toInt64[T constraints.Integer](flat []T) []int64 {
	values := make([]int64, len(flat))
	for ii, v := range flat {
		values[ii] = int64(v)
	}
	return values
}
