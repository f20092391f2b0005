// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape: the dtype and dimensions of a tensor.
//
// Glossary:
//
//   - Rank: number of axes of a tensor.
//   - Axis: index of a dimension. Negative axes count from the end, so -1 is the last axis.
//   - Dimension: the size of a tensor along one of its axes. Dimensions can be 0 (empty tensors).
//   - Scalar: a shape with rank 0, holding exactly one element.
//
// Layout is always row-major: the last axis is the one that changes fastest.
package shapes

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrSizeOverflow is returned by CheckSize when the number of elements, or of bytes, of a shape
// doesn't fit in an int.
var ErrSizeOverflow = errors.New("shape size overflows")

// Shape of a tensor. Create it with Make.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. The dimensions are copied.
//
// Dimensions can be 0, but not negative: that panics.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with a negative dimension", s)
		}
	}
	return s
}

// Scalar returns the scalar Shape for the Go type T.
func Scalar[T dtypes.Supported]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape: Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape is a valid scalar (rank 0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsZeroSize returns whether any of the dimensions is 0, in which case the shape holds no elements.
func (s Shape) IsZeroSize() bool { return slices.Contains(s.Dimensions, 0) }

// AdjustAxis converts a negative axis to its positive counterpart, and panics if it is out-of-bounds.
func (s Shape) AdjustAxis(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("axis %d out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return adjusted
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
// It panics for an out-of-bounds axis.
func (s Shape) Dim(axis int) int {
	return s.Dimensions[s.AdjustAxis(axis)]
}

// CheckSize returns an error wrapping ErrSizeOverflow if the number of elements of the shape, or
// the number of bytes to store them, doesn't fit in an int. Size and Memory are only meaningful
// for shapes that pass this check.
func (s Shape) CheckSize() error {
	for _, dim := range s.Dimensions {
		if dim < 0 {
			return errors.Errorf("shape %s has a negative dimension", s)
		}
	}
	if s.IsZeroSize() {
		return nil
	}
	size := uint64(1)
	for _, dim := range s.Dimensions {
		hi, lo := bits.Mul64(size, uint64(dim))
		if hi != 0 || lo > math.MaxInt {
			return errors.Wrapf(ErrSizeOverflow, "shape %s has more than %d elements", s, math.MaxInt)
		}
		size = lo
	}
	if !s.Ok() {
		return nil
	}
	hi, lo := bits.Mul64(size, uint64(s.DType.Memory()))
	if hi != 0 || lo > math.MaxInt64 {
		return errors.Wrapf(ErrSizeOverflow, "shape %s requires more than %d bytes", s, int64(math.MaxInt64))
	}
	return nil
}

// Size returns the number of elements: the product of the dimensions. Scalars have size 1.
// The result is undefined if CheckSize fails.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes needed to store a tensor of this shape.
func (s Shape) Memory() int64 {
	if !s.Ok() {
		return 0
	}
	return int64(s.DType.Memory()) * int64(s.Size())
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && s.EqualDimensions(other)
}

// EqualDimensions compares only the dimensions, ignoring the dtype.
func (s Shape) EqualDimensions(other Shape) bool {
	return slices.Equal(s.Dimensions, other.Dimensions)
}

// String implements fmt.Stringer, e.g.: "(Float32)[2 3]".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Strides returns, for each axis, the number of elements (not bytes) to skip to move one position
// along that axis, in row-major layout.
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// SplitAt returns the number of elements before axis (outer size), the dimension of axis, and the
// number of elements after it (inner size). So Size() == outer * dim * inner.
//
// It is used by kernels that copy contiguous blocks along an axis.
func (s Shape) SplitAt(axis int) (outer, dim, inner int) {
	axis = s.AdjustAxis(axis)
	outer, inner = 1, 1
	for ii, d := range s.Dimensions {
		switch {
		case ii < axis:
			outer *= d
		case ii > axis:
			inner *= d
		}
	}
	return outer, s.Dimensions[axis], inner
}

// InsertAxis returns a new shape with an axis of the given dimension inserted at position axis.
// axis can be in [-rank-1, rank], negative values count from the end.
func (s Shape) InsertAxis(axis, dim int) Shape {
	rank := s.Rank()
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		exceptions.Panicf("InsertAxis(%d) out-of-bounds for shape %s", axis, s)
	}
	dims := make([]int, 0, rank+1)
	dims = append(dims, s.Dimensions[:axis]...)
	dims = append(dims, dim)
	dims = append(dims, s.Dimensions[axis:]...)
	return Make(s.DType, dims...)
}

// RemoveAxis returns a new shape with the given axis removed.
func (s Shape) RemoveAxis(axis int) Shape {
	axis = s.AdjustAxis(axis)
	return Make(s.DType, slices.Delete(slices.Clone(s.Dimensions), axis, axis+1)...)
}
