// Package posteriors implements the joint distributions returned by models.
//
// A Posterior is a batch of joint Gaussian distributions over q query points
// and o outputs. Moments are exposed as tensors shaped batchShape x q x o,
// and joint samples as numSamples x batchShape x q x o. The distribution math
// (Cholesky factors, multivariate-normal sampling) is delegated to gonum.
package posteriors

import (
	"slices"

	"github.com/anstkosh/botorch/internal/f64"
	"github.com/anstkosh/botorch/params"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Posterior is a joint distribution over query points and outputs, supporting
// moment queries and joint sampling.
type Posterior interface {
	// Mean of the distribution, shaped batchShape x q x o.
	Mean() *tensors.Tensor

	// Variance (marginal, per point and output), shaped batchShape x q x o.
	Variance() *tensors.Tensor

	// Sample draws numSamples joint samples, shaped
	// numSamples x batchShape x q x o.
	Sample(numSamples int, src rand.Source) (*tensors.Tensor, error)
}

// Gaussian is a batch of independent multivariate-normal distributions, one
// per (batch element, output) pair, each jointly over q query points.
type Gaussian struct {
	dtype     dtypes.DType
	batchDims []int
	q         int
	outputs   int

	// mus and chols are indexed by flatBatch*outputs + output.
	mus   [][]float64
	chols []*mat.Cholesky

	mean     *tensors.Tensor
	variance *tensors.Tensor
}

var _ Posterior = (*Gaussian)(nil)

// PSDCholesky factorizes cov, progressively adding jitter to the diagonal if
// the matrix is numerically positive semi-definite rather than positive
// definite. Shared by the posterior constructors and the exact-GP solves in
// package models.
func PSDCholesky(cov *mat.SymDense) (*mat.Cholesky, error) {
	q, _ := cov.Dims()
	scale := 0.0
	for ii := range q {
		scale += cov.At(ii, ii)
	}
	scale = max(scale/float64(q), 1e-8)
	for _, jitter := range []float64{0, 1e-10, 1e-8, 1e-6, 1e-4} {
		attempt := mat.NewSymDense(q, nil)
		attempt.CopySym(cov)
		for ii := range q {
			attempt.SetSym(ii, ii, attempt.At(ii, ii)+jitter*scale)
		}
		chol := &mat.Cholesky{}
		if chol.Factorize(attempt) {
			return chol, nil
		}
	}
	return nil, errors.New("covariance matrix is not positive definite, even with jitter")
}

// NewGaussian creates a Gaussian posterior from per-(batch, output) moments:
// mus[i] is the mean vector (length q) and covs[i] the q x q covariance of
// element i = flatBatch*outputs + output, with flatBatch enumerating
// batchDims in row-major order.
func NewGaussian(dtype dtypes.DType, batchDims []int, q, outputs int, mus [][]float64, covs []*mat.SymDense) (*Gaussian, error) {
	numBatch := 1
	for _, dim := range batchDims {
		numBatch *= dim
	}
	if len(mus) != numBatch*outputs || len(covs) != len(mus) {
		return nil, errors.Errorf("posteriors.NewGaussian: got %d means and %d covariances, want %d",
			len(mus), len(covs), numBatch*outputs)
	}
	p := &Gaussian{
		dtype:     dtype,
		batchDims: slices.Clone(batchDims),
		q:         q,
		outputs:   outputs,
		mus:       mus,
		chols:     make([]*mat.Cholesky, len(covs)),
	}
	meanFlat := make([]float64, numBatch*q*outputs)
	varFlat := make([]float64, numBatch*q*outputs)
	for idx, cov := range covs {
		if len(mus[idx]) != q {
			return nil, errors.Errorf("posteriors.NewGaussian: mean %d has length %d, want %d", idx, len(mus[idx]), q)
		}
		if r, _ := cov.Dims(); r != q {
			return nil, errors.Errorf("posteriors.NewGaussian: covariance %d is %dx%d, want %dx%d", idx, r, r, q, q)
		}
		chol, err := PSDCholesky(cov)
		if err != nil {
			return nil, err
		}
		p.chols[idx] = chol
		flatBatch, output := idx/outputs, idx%outputs
		for jj := range q {
			pos := (flatBatch*q+jj)*outputs + output
			meanFlat[pos] = mus[idx][jj]
			varFlat[pos] = cov.At(jj, jj)
		}
	}
	eventDims := append(slices.Clone(batchDims), q, outputs)
	p.mean = f64.ToTensor(dtype, meanFlat, eventDims...)
	p.variance = f64.ToTensor(dtype, varFlat, eventDims...)
	return p, nil
}

// Mean implements Posterior.
func (p *Gaussian) Mean() *tensors.Tensor { return p.mean }

// Variance implements Posterior.
func (p *Gaussian) Variance() *tensors.Tensor { return p.variance }

// Sample implements Posterior: joint samples across the q points of each
// (batch element, output) distribution, independent across distributions and
// samples.
func (p *Gaussian) Sample(numSamples int, src rand.Source) (*tensors.Tensor, error) {
	if numSamples < 1 {
		return nil, errors.Errorf("posteriors.Gaussian.Sample: numSamples must be >= 1, got %d", numSamples)
	}
	numBatch := 1
	for _, dim := range p.batchDims {
		numBatch *= dim
	}
	flat := make([]float64, numSamples*numBatch*p.q*p.outputs)
	for ss := range numSamples {
		for idx := range p.mus {
			flatBatch, output := idx/p.outputs, idx%p.outputs
			sample := distmv.NormalRand(nil, p.mus[idx], p.chols[idx], src)
			for jj := range p.q {
				pos := (((ss*numBatch+flatBatch)*p.q)+jj)*p.outputs + output
				flat[pos] = sample[jj]
			}
		}
	}
	dims := append([]int{numSamples}, p.batchDims...)
	dims = append(dims, p.q, p.outputs)
	return f64.ToTensor(p.dtype, flat, dims...), nil
}

// Independent aggregates the posteriors of independent models (what a
// ModelList produces) into a single joint posterior: outputs are concatenated
// along the last axis, and sampling is independent across parts.
type Independent struct {
	parts []Posterior
}

var _ Posterior = (*Independent)(nil)

// NewIndependent creates the aggregate posterior. All parts must share the
// same batch shape and number of query points.
func NewIndependent(parts ...Posterior) (*Independent, error) {
	if len(parts) == 0 {
		return nil, errors.New("posteriors.NewIndependent requires at least one posterior")
	}
	first := parts[0].Mean().Shape()
	for _, part := range parts[1:] {
		other := part.Mean().Shape()
		if other.DType != first.DType || other.Rank() != first.Rank() ||
			!slices.Equal(other.Dimensions[:other.Rank()-1], first.Dimensions[:first.Rank()-1]) {
			return nil, errors.Errorf(
				"posteriors.NewIndependent: incompatible posterior shapes %s and %s", first, other)
		}
	}
	return &Independent{parts: parts}, nil
}

// Mean implements Posterior.
func (p *Independent) Mean() *tensors.Tensor {
	return p.concat(func(part Posterior) *tensors.Tensor { return part.Mean() })
}

// Variance implements Posterior.
func (p *Independent) Variance() *tensors.Tensor {
	return p.concat(func(part Posterior) *tensors.Tensor { return part.Variance() })
}

func (p *Independent) concat(get func(Posterior) *tensors.Tensor) *tensors.Tensor {
	ts := make([]*tensors.Tensor, len(p.parts))
	for ii, part := range p.parts {
		ts[ii] = get(part)
	}
	return params.ConcatTensors(ts[0].Rank()-1, ts...)
}

// Sample implements Posterior.
func (p *Independent) Sample(numSamples int, src rand.Source) (*tensors.Tensor, error) {
	ts := make([]*tensors.Tensor, len(p.parts))
	for ii, part := range p.parts {
		sample, err := part.Sample(numSamples, src)
		if err != nil {
			return nil, err
		}
		ts[ii] = sample
	}
	return params.ConcatTensors(ts[0].Rank()-1, ts...), nil
}
