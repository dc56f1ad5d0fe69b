// Package kernels implements the covariance modules of the GP model family.
//
// The default covariance is a Matérn-5/2 kernel with ARD lengthscales wrapped
// in a Scale kernel (a learned outputscale), each with a Gamma prior on its
// hyperparameter. Raw parameters live in the softplus domain; the positive
// values are recovered with f64.Softplus when evaluating.
//
// Parameter tensors carry the model's batch shape as leading axes, so a
// batched multi-output model holds one lengthscale/outputscale set per output
// in the same module.
package kernels

import (
	"math"
	"slices"

	"github.com/anstkosh/botorch/priors"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"gonum.org/v1/gonum/mat"
)

// Matern is a Matérn-5/2 kernel with ARD (one lengthscale per input
// dimension).
type Matern struct {
	// RawLengthscale has shape batchShape x 1 x numDims; positive lengthscales
	// are softplus(RawLengthscale).
	RawLengthscale *tensors.Tensor

	// LengthscalePrior applies to every (positive) lengthscale entry.
	LengthscalePrior *priors.Gamma

	numDims int
}

// NewMatern creates a Matérn-5/2 kernel for inputs with numDims features,
// with raw lengthscales initialized to zero and the default Gamma prior.
func NewMatern(dtype dtypes.DType, numDims int, batchShape ...int) *Matern {
	dims := append(slices.Clone(batchShape), 1, numDims)
	return &Matern{
		RawLengthscale:   tensors.FromShape(shapes.Make(dtype, dims...)),
		LengthscalePrior: priors.DefaultLengthscalePrior(),
		numDims:          numDims,
	}
}

// NumDims returns the number of input features the kernel was built for.
func (k *Matern) NumDims() int { return k.numDims }

// Scale wraps a base kernel with a learned outputscale.
type Scale struct {
	Base *Matern

	// RawOutputscale has shape batchShape (a scalar for an unbatched model);
	// the positive outputscale is softplus(RawOutputscale).
	RawOutputscale *tensors.Tensor

	// OutputscalePrior applies to the (positive) outputscale.
	OutputscalePrior *priors.Gamma
}

// NewScale creates the default covariance module: a scaled Matérn-5/2 kernel
// with zero-initialized raw parameters and the default Gamma priors.
func NewScale(dtype dtypes.DType, numDims int, batchShape ...int) *Scale {
	return &Scale{
		Base:             NewMatern(dtype, numDims, batchShape...),
		RawOutputscale:   tensors.FromShape(shapes.Make(dtype, batchShape...)),
		OutputscalePrior: priors.DefaultOutputscalePrior(),
	}
}

const sqrt5 = 2.2360679774997896964091736687747

// Matern52 fills dst with the scaled Matérn-5/2 covariance between the rows
// of x1 (len(x1) points) and the rows of x2 (len(x2) points):
//
//	k(a, b) = outputscale * (1 + √5·r + 5r²/3) * exp(-√5·r)
//
// where r is the Euclidean distance between a and b after dividing each
// feature by its lengthscale. dst must be len(x1) x len(x2).
func Matern52(x1, x2 [][]float64, lengthscales []float64, outputscale float64, dst *mat.Dense) {
	for ii, a := range x1 {
		for jj, b := range x2 {
			r2 := 0.0
			for dd, ls := range lengthscales {
				diff := (a[dd] - b[dd]) / ls
				r2 += diff * diff
			}
			r := math.Sqrt(r2)
			dst.Set(ii, jj, outputscale*(1+sqrt5*r+5.0*r2/3.0)*math.Exp(-sqrt5*r))
		}
	}
}
