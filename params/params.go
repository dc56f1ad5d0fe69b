// Package params implements Bundle, an ordered, name-keyed collection of
// parameter tensors, plus the pure stacking/slicing functions the
// batched<->model-list converter is built from.
//
// A Bundle is the flat "state" of a model: every parameter (and non-trainable
// buffer, like fixed observation noise) under a slash-scoped name, for example
// "kernel/base/raw_lengthscale". Models expose their state as a Bundle and can
// load one back by name, which is what guarantees exact value transfer during
// conversion.
//
// The tensor helpers (StackTensors, SliceAxis, ExpandAxis, ConcatTensors)
// operate on the raw flat bytes of the tensors and are therefore dtype
// agnostic. They panic on misuse (invalid axis, mismatched shapes); the
// converter validates everything eagerly before calling them.
package params

import (
	"slices"

	"github.com/anstkosh/botorch/boterrors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
)

// Bundle is an ordered mapping of parameter names to tensors.
//
// The iteration order is the insertion order, so bundles built by the same
// model type always enumerate in the same order.
type Bundle struct {
	keys   []string
	values map[string]*tensors.Tensor
}

// NewBundle creates an empty Bundle.
func NewBundle() *Bundle {
	return &Bundle{values: make(map[string]*tensors.Tensor)}
}

// Set adds (or replaces) the tensor under the given name. It stores the
// tensor itself, not a copy. It returns the Bundle to allow chaining.
func (b *Bundle) Set(name string, t *tensors.Tensor) *Bundle {
	if _, found := b.values[name]; !found {
		b.keys = append(b.keys, name)
	}
	b.values[name] = t
	return b
}

// Get returns the tensor stored under name, or nil if there is none.
func (b *Bundle) Get(name string) *tensors.Tensor {
	return b.values[name]
}

// Has reports whether a tensor is stored under name.
func (b *Bundle) Has(name string) bool {
	_, found := b.values[name]
	return found
}

// Keys returns a copy of the parameter names, in insertion order.
func (b *Bundle) Keys() []string {
	return slices.Clone(b.keys)
}

// Len returns the number of parameters in the bundle.
func (b *Bundle) Len() int { return len(b.keys) }

// Clone returns a Bundle with deep copies of every tensor.
func (b *Bundle) Clone() *Bundle {
	clone := NewBundle()
	for _, key := range b.keys {
		clone.Set(key, b.values[key].LocalClone())
	}
	return clone
}

// Equal reports whether both bundles hold the same parameter names with
// bitwise-equal tensor values. The insertion order is not compared.
func (b *Bundle) Equal(other *Bundle) bool {
	if b.Len() != other.Len() {
		return false
	}
	for _, key := range b.keys {
		otherT := other.Get(key)
		if otherT == nil || !b.values[key].Equal(otherT) {
			return false
		}
	}
	return true
}

// Stack combines the bundles of independent models into the bundle of a
// batched model: every parameter is stacked along a new axis (of dimension
// len(bundles)) inserted at the given position.
//
// All bundles must have the same parameter names, and for each name the same
// tensor shape; otherwise an UnsupportedError is returned.
func Stack(axis int, bundles ...*Bundle) (*Bundle, error) {
	if len(bundles) == 0 {
		return nil, boterrors.Unsupportedf("params.Stack requires at least one bundle")
	}
	first := bundles[0]
	for _, b := range bundles[1:] {
		if len(b.keys) != len(first.keys) {
			return nil, boterrors.Unsupportedf(
				"cannot stack bundles with different parameter sets: %v vs %v", first.keys, b.keys)
		}
		for _, key := range first.keys {
			t := b.Get(key)
			if t == nil {
				return nil, boterrors.Unsupportedf(
					"cannot stack bundles with different parameter sets: %q missing", key)
			}
			if !t.Shape().Equal(first.values[key].Shape()) {
				return nil, boterrors.Unsupportedf(
					"unequal tensor shapes for parameter %q: %s vs %s",
					key, first.values[key].Shape(), t.Shape())
			}
		}
	}
	stacked := NewBundle()
	for _, key := range first.keys {
		ts := make([]*tensors.Tensor, len(bundles))
		for ii, b := range bundles {
			ts[ii] = b.Get(key)
		}
		stacked.Set(key, StackTensors(axis, ts...))
	}
	return stacked, nil
}

// ExtractOutput is the inverse of Stack for one position: it slices every
// parameter at the given index along the given axis, dropping that axis.
func ExtractOutput(b *Bundle, axis, index int) *Bundle {
	extracted := NewBundle()
	for _, key := range b.keys {
		extracted.Set(key, SliceAxis(b.values[key], axis, index))
	}
	return extracted
}

// elemSize returns the size in bytes of one element of the tensor.
func elemSize(t *tensors.Tensor) int {
	return int(t.DType().Memory())
}

func sizeOf(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}

// StackTensors stacks the tensors along a new axis inserted at the given
// position (0 <= axis <= rank). All tensors must have identical shapes.
//
// The copy works on flat bytes, so it supports any dtype.
func StackTensors(axis int, ts ...*tensors.Tensor) *tensors.Tensor {
	if len(ts) == 0 {
		exceptions.Panicf("params.StackTensors requires at least one tensor")
	}
	shape := ts[0].Shape()
	for _, t := range ts[1:] {
		if !t.Shape().Equal(shape) {
			exceptions.Panicf("params.StackTensors: mismatched shapes %s and %s", shape, t.Shape())
		}
	}
	rank := shape.Rank()
	if axis < 0 || axis > rank {
		exceptions.Panicf("params.StackTensors: axis %d out-of-range for rank %d", axis, rank)
	}
	newDims := slices.Insert(slices.Clone(shape.Dimensions), axis, len(ts))
	outer := sizeOf(shape.Dimensions[:axis])
	blockBytes := sizeOf(shape.Dimensions[axis:]) * elemSize(ts[0])
	stacked := tensors.FromShape(shapes.Make(shape.DType, newDims...))
	stacked.MutableBytes(func(dst []byte) {
		for jj, t := range ts {
			t.ConstBytes(func(src []byte) {
				for oo := range outer {
					dstOffset := (oo*len(ts) + jj) * blockBytes
					copy(dst[dstOffset:dstOffset+blockBytes], src[oo*blockBytes:(oo+1)*blockBytes])
				}
			})
		}
	})
	return stacked
}

// SliceAxis extracts the sub-tensor at the given index along the given axis,
// dropping that axis. All other dimensions are preserved unchanged.
func SliceAxis(t *tensors.Tensor, axis, index int) *tensors.Tensor {
	shape := t.Shape()
	rank := shape.Rank()
	if axis < 0 || axis >= rank {
		exceptions.Panicf("params.SliceAxis: axis %d out-of-range for rank %d", axis, rank)
	}
	mid := shape.Dimensions[axis]
	if index < 0 || index >= mid {
		exceptions.Panicf("params.SliceAxis: index %d out-of-range for axis dimension %d", index, mid)
	}
	newDims := slices.Delete(slices.Clone(shape.Dimensions), axis, axis+1)
	outer := sizeOf(shape.Dimensions[:axis])
	blockBytes := sizeOf(shape.Dimensions[axis+1:]) * elemSize(t)
	sliced := tensors.FromShape(shapes.Make(shape.DType, newDims...))
	sliced.MutableBytes(func(dst []byte) {
		t.ConstBytes(func(src []byte) {
			for oo := range outer {
				srcOffset := (oo*mid + index) * blockBytes
				copy(dst[oo*blockBytes:(oo+1)*blockBytes], src[srcOffset:srcOffset+blockBytes])
			}
		})
	})
	return sliced
}

// ExpandAxis inserts a new axis of the given dimension at the given position
// (0 <= axis <= rank), replicating the tensor values along it.
func ExpandAxis(t *tensors.Tensor, axis, dim int) *tensors.Tensor {
	shape := t.Shape()
	rank := shape.Rank()
	if axis < 0 || axis > rank {
		exceptions.Panicf("params.ExpandAxis: axis %d out-of-range for rank %d", axis, rank)
	}
	if dim < 1 {
		exceptions.Panicf("params.ExpandAxis: new axis dimension must be >= 1, got %d", dim)
	}
	newDims := slices.Insert(slices.Clone(shape.Dimensions), axis, dim)
	outer := sizeOf(shape.Dimensions[:axis])
	blockBytes := sizeOf(shape.Dimensions[axis:]) * elemSize(t)
	expanded := tensors.FromShape(shapes.Make(shape.DType, newDims...))
	expanded.MutableBytes(func(dst []byte) {
		t.ConstBytes(func(src []byte) {
			for oo := range outer {
				block := src[oo*blockBytes : (oo+1)*blockBytes]
				for jj := range dim {
					dstOffset := (oo*dim + jj) * blockBytes
					copy(dst[dstOffset:dstOffset+blockBytes], block)
				}
			}
		})
	})
	return expanded
}

// Reshape returns a copy of t with the given dimensions, which must hold the
// same total number of elements.
func Reshape(t *tensors.Tensor, dimensions ...int) *tensors.Tensor {
	newShape := shapes.Make(t.DType(), dimensions...)
	if newShape.Size() != t.Shape().Size() {
		exceptions.Panicf("params.Reshape: cannot reshape %s to %s", t.Shape(), newShape)
	}
	reshaped := tensors.FromShape(newShape)
	reshaped.MutableBytes(func(dst []byte) {
		t.ConstBytes(func(src []byte) {
			copy(dst, src)
		})
	})
	return reshaped
}

// ConcatTensors concatenates the tensors along an existing axis. All tensors
// must have the same rank, dtype and dimensions outside the given axis.
func ConcatTensors(axis int, ts ...*tensors.Tensor) *tensors.Tensor {
	if len(ts) == 0 {
		exceptions.Panicf("params.ConcatTensors requires at least one tensor")
	}
	shape := ts[0].Shape()
	rank := shape.Rank()
	if axis < 0 || axis >= rank {
		exceptions.Panicf("params.ConcatTensors: axis %d out-of-range for rank %d", axis, rank)
	}
	totalAxisDim := 0
	for _, t := range ts {
		other := t.Shape()
		if other.DType != shape.DType || other.Rank() != rank {
			exceptions.Panicf("params.ConcatTensors: mismatched shapes %s and %s", shape, other)
		}
		for d := range rank {
			if d != axis && other.Dimensions[d] != shape.Dimensions[d] {
				exceptions.Panicf("params.ConcatTensors: mismatched shapes %s and %s outside axis %d",
					shape, other, axis)
			}
		}
		totalAxisDim += other.Dimensions[axis]
	}
	newDims := slices.Clone(shape.Dimensions)
	newDims[axis] = totalAxisDim
	outer := sizeOf(shape.Dimensions[:axis])
	unitBytes := sizeOf(shape.Dimensions[axis+1:]) * elemSize(ts[0])
	concatenated := tensors.FromShape(shapes.Make(shape.DType, newDims...))
	concatenated.MutableBytes(func(dst []byte) {
		axisOffset := 0
		for _, t := range ts {
			tAxisDim := t.Shape().Dimensions[axis]
			t.ConstBytes(func(src []byte) {
				for oo := range outer {
					dstOffset := (oo*totalAxisDim + axisOffset) * unitBytes
					srcOffset := oo * tAxisDim * unitBytes
					copy(dst[dstOffset:dstOffset+tAxisDim*unitBytes], src[srcOffset:srcOffset+tAxisDim*unitBytes])
				}
			})
			axisOffset += tAxisDim
		}
	})
	return concatenated
}
