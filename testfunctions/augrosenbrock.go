// Package testfunctions implements synthetic benchmark functions used to
// exercise models and acquisition loops on problems with known optima.
package testfunctions

import (
	"github.com/anstkosh/botorch/internal/f64"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// GlobalMaximizer is the coordinate value of NegAugRosenbrock's global
// maximizer: the maximum is attained at the all-GlobalMaximizer point, for
// any dimension.
const GlobalMaximizer = 1.0

// GlobalMaximum is the value of NegAugRosenbrock at the global maximizer.
const GlobalMaximum = 0.0

// NegAugRosenbrock evaluates the negated augmented Rosenbrock function
//
//	f(x) = -sum_{i=1}^{d-3} [ 100*(x_{i+1} - x_i^2 + 0.1*(1 - x_{d-1}))^2
//	                        + (x_i - 1 + 0.1*(1 - x_d)^2)^2 ]
//
// where the last two coordinates act as fidelity parameters: at fidelity 1
// the function reduces to the classic (negated) Rosenbrock.
//
// X is a single point shaped d (returning a scalar tensor) or a batch shaped
// b x d (returning shape b), with d >= 4. The result carries X's dtype.
func NegAugRosenbrock(X *tensors.Tensor) (*tensors.Tensor, error) {
	if X == nil {
		return nil, errors.New("evaluation points must not be nil")
	}
	if !f64.IsSupported(X.DType()) {
		return nil, errors.Errorf("unsupported dtype %s, only Float32 and Float64 are supported", X.DType())
	}
	dims := X.Shape().Dimensions
	var b, d int
	switch len(dims) {
	case 1:
		b, d = 1, dims[0]
	case 2:
		b, d = dims[0], dims[1]
	default:
		return nil, errors.Errorf("evaluation points must be shaped d or b x d, got %s", X.Shape())
	}
	if d < 4 {
		return nil, errors.Errorf("the augmented Rosenbrock function needs at least 4 dimensions, got %d", d)
	}

	flat := f64.FromTensor(X)
	out := make([]float64, b)
	for bb := range b {
		x := flat[bb*d : (bb+1)*d]
		total := 0.0
		for ii := 0; ii+3 < d; ii++ {
			t1 := x[ii+1] - x[ii]*x[ii] + 0.1*(1-x[d-2])
			t2 := x[ii] - 1 + 0.1*(1-x[d-1])*(1-x[d-1])
			total += 100*t1*t1 + t2*t2
		}
		out[bb] = -total
	}
	if len(dims) == 1 {
		return f64.ToTensor(X.DType(), out), nil
	}
	return f64.ToTensor(X.DType(), out, b), nil
}
