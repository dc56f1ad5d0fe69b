// Package f64 converts tensors to and from float64 slices, and provides the
// scalar transforms shared by the kernel and likelihood parameterizations.
//
// The posterior math (see package models) runs in float64 regardless of the
// tensor dtype; this package is the boundary where Float32 tensors are widened
// and narrowed back.
package f64

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// IsSupported reports whether dtype is one of the dtypes the model packages
// accept (Float32 or Float64).
func IsSupported(dtype dtypes.DType) bool {
	return dtype == dtypes.Float32 || dtype == dtypes.Float64
}

// FromTensor returns a copy of the tensor's flat values widened to float64.
// It panics for dtypes other than Float32 and Float64 -- callers validate
// dtypes at construction time.
func FromTensor(t *tensors.Tensor) []float64 {
	switch t.DType() {
	case dtypes.Float64:
		return tensors.CopyFlatData[float64](t)
	case dtypes.Float32:
		flat32 := tensors.CopyFlatData[float32](t)
		flat := make([]float64, len(flat32))
		for ii, v := range flat32 {
			flat[ii] = float64(v)
		}
		return flat
	}
	exceptions.Panicf("f64.FromTensor: unsupported dtype %s", t.DType())
	return nil
}

// ToTensor creates a tensor of the given dtype and dimensions from float64
// values, narrowing if needed. It panics if the size doesn't match the
// dimensions or the dtype is not a float.
func ToTensor(dtype dtypes.DType, values []float64, dimensions ...int) *tensors.Tensor {
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != len(values) {
		exceptions.Panicf("f64.ToTensor: shape %s requires %d values, got %d", shape, shape.Size(), len(values))
	}
	t := tensors.FromShape(shape)
	switch dtype {
	case dtypes.Float64:
		tensors.AssignFlatData(t, values)
	case dtypes.Float32:
		flat32 := make([]float32, len(values))
		for ii, v := range values {
			flat32[ii] = float32(v)
		}
		tensors.AssignFlatData(t, flat32)
	default:
		exceptions.Panicf("f64.ToTensor: unsupported dtype %s", dtype)
	}
	return t
}

// Softplus computes log(1+exp(x)), the positivity transform applied to raw
// noise, lengthscale and outputscale parameters.
func Softplus(x float64) float64 {
	if x > 30 {
		// exp(x) overflows the addition long before float64 range ends.
		return x
	}
	return math.Log1p(math.Exp(x))
}

// SoftplusInv is the inverse of Softplus: log(exp(y)-1) for y > 0.
func SoftplusInv(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}
