package models

import (
	"slices"

	"github.com/anstkosh/botorch/internal/f64"
	"github.com/anstkosh/botorch/kernels"
	"github.com/anstkosh/botorch/posteriors"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// rows reinterprets a flat slice as n rows of d contiguous values.
func rows(flat []float64, offset, n, d int) [][]float64 {
	out := make([][]float64, n)
	for ii := range out {
		out[ii] = flat[offset+ii*d : offset+(ii+1)*d]
	}
	return out
}

// exactPosterior computes the exact GP predictive distribution at the query
// points xQ given training data (xTr, y) and fixed hyperparameters. noise
// holds the per-point observation variances added to the diagonal of the
// training covariance.
func exactPosterior(xTr, xQ [][]float64, y []float64, meanValue float64,
	lengthscales []float64, outputscale float64, noise []float64) ([]float64, *mat.SymDense, error) {
	n := len(xTr)
	q := len(xQ)

	knn := mat.NewDense(n, n, nil)
	kernels.Matern52(xTr, xTr, lengthscales, outputscale, knn)
	sym := mat.NewSymDense(n, nil)
	for ii := range n {
		for jj := ii; jj < n; jj++ {
			v := 0.5 * (knn.At(ii, jj) + knn.At(jj, ii))
			if ii == jj {
				v += noise[ii]
			}
			sym.SetSym(ii, jj, v)
		}
	}
	chol, err := posteriors.PSDCholesky(sym)
	if err != nil {
		return nil, nil, err
	}

	resid := mat.NewVecDense(n, nil)
	for ii := range n {
		resid.SetVec(ii, y[ii]-meanValue)
	}
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, resid); err != nil {
		return nil, nil, errors.Wrap(err, "solving for the predictive mean")
	}

	kqn := mat.NewDense(q, n, nil)
	kernels.Matern52(xQ, xTr, lengthscales, outputscale, kqn)
	mu := make([]float64, q)
	for ii := range q {
		mu[ii] = meanValue + mat.Dot(kqn.RowView(ii), &alpha)
	}

	var v mat.Dense
	if err := chol.SolveTo(&v, kqn.T()); err != nil {
		return nil, nil, errors.Wrap(err, "solving for the predictive covariance")
	}
	kqq := mat.NewDense(q, q, nil)
	kernels.Matern52(xQ, xQ, lengthscales, outputscale, kqq)
	var reduction mat.Dense
	reduction.Mul(kqn, &v)
	cov := mat.NewSymDense(q, nil)
	for ii := range q {
		for jj := ii; jj < q; jj++ {
			a := kqq.At(ii, jj) - reduction.At(ii, jj)
			b := kqq.At(jj, ii) - reduction.At(jj, ii)
			cov.SetSym(ii, jj, 0.5*(a+b))
		}
	}
	return mu, cov, nil
}

// Posterior implements Model. X is shaped q x d (shared across all batch
// elements) or batchShape x q x d; outputIndices selects a subset of the
// model's outputs (nil means all, in order). With observationNoise the
// likelihood's noise variance is added to the predictive covariance.
func (m *gpModel) Posterior(X *tensors.Tensor, outputIndices []int, observationNoise bool) (posteriors.Posterior, error) {
	if X == nil {
		return nil, errors.New("query points must not be nil")
	}
	if X.DType() != m.dtype {
		return nil, errors.Errorf("query points have dtype %s, model has %s", X.DType(), m.dtype)
	}
	xDims := X.Shape().Dimensions
	rank := len(xDims)
	shared := rank == 2
	if !shared && (rank != len(m.batchShape)+2 || !slices.Equal(xDims[:len(m.batchShape)], m.batchShape)) {
		return nil, errors.Errorf("query points must be shaped q x d or %v x q x d, got %s",
			m.batchShape, X.Shape())
	}
	if xDims[rank-1] != m.numDims {
		return nil, errors.Errorf("query points have %d features, model was trained on %d",
			xDims[rank-1], m.numDims)
	}
	q := xDims[rank-2]

	sel := outputIndices
	if sel == nil {
		sel = make([]int, m.numOutputs)
		for ii := range sel {
			sel[ii] = ii
		}
	}
	if len(sel) == 0 {
		return nil, errors.New("outputIndices must not be empty")
	}
	for _, oi := range sel {
		if oi < 0 || oi >= m.numOutputs {
			return nil, errors.Errorf("output index %d out of range for a model with %d outputs", oi, m.numOutputs)
		}
	}

	numBatch := 1
	for _, dim := range m.batchShape {
		numBatch *= dim
	}
	xFlat := f64.FromTensor(X)
	trainXFlat := f64.FromTensor(m.trainX)
	trainYFlat := f64.FromTensor(m.trainY)
	meanFlat := f64.FromTensor(m.mean.Value)
	lsFlat := f64.FromTensor(m.kernel.Base.RawLengthscale)
	osFlat := f64.FromTensor(m.kernel.RawOutputscale)
	var rawNoiseFlat, noiseFlat []float64
	if m.likelihood != nil {
		rawNoiseFlat = f64.FromTensor(m.likelihood.RawNoise)
	} else {
		noiseFlat = f64.FromTensor(m.noise)
	}

	n := m.numTrain
	d := m.numDims
	mus := make([][]float64, 0, numBatch*len(sel))
	covs := make([]*mat.SymDense, 0, numBatch*len(sel))
	noise := make([]float64, n)
	for flatBatch := range numBatch {
		xQ := rows(xFlat, 0, q, d)
		if !shared {
			xQ = rows(xFlat, flatBatch*q*d, q, d)
		}
		for _, oi := range sel {
			augIdx := flatBatch
			if m.hasOutputAxis {
				augIdx = flatBatch*m.numOutputs + oi
			}
			xTr := rows(trainXFlat, augIdx*n*d, n, d)
			y := trainYFlat[augIdx*n : (augIdx+1)*n]
			lengthscales := make([]float64, d)
			for kk := range d {
				lengthscales[kk] = f64.Softplus(lsFlat[augIdx*d+kk])
			}
			outputscale := f64.Softplus(osFlat[augIdx])
			obsVar := 0.0
			if m.likelihood != nil {
				obsVar = f64.Softplus(rawNoiseFlat[augIdx])
				for jj := range noise {
					noise[jj] = obsVar
				}
			} else {
				total := 0.0
				for jj := range noise {
					noise[jj] = noiseFlat[augIdx*n+jj]
					total += noise[jj]
				}
				obsVar = total / float64(n)
			}

			mu, cov, err := exactPosterior(xTr, xQ, y, meanFlat[augIdx], lengthscales, outputscale, noise)
			if err != nil {
				return nil, err
			}
			if observationNoise {
				for jj := range q {
					cov.SetSym(jj, jj, cov.At(jj, jj)+obsVar)
				}
			}
			mus = append(mus, mu)
			covs = append(covs, cov)
		}
	}
	return posteriors.NewGaussian(m.dtype, m.batchShape, q, len(sel), mus, covs)
}
