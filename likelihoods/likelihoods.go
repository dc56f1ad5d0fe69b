// Package likelihoods implements the noise models of the GP family.
//
// The closed set of variants:
//
//   - Gaussian: learned homoskedastic noise, with a Gamma prior on the noise
//     level. This is what the GP constructors build by default; a Gaussian
//     likelihood supplied by the caller instead (models.WithLikelihood) is
//     considered custom and disables batched<->list conversion.
//   - FixedNoise: data-supplied observation noise, non-trainable, no prior.
//   - Heteroskedastic noise (the noise level itself modeled by a GP) is a
//     model-level construct, see models.HeteroskedasticSingleTaskGP.
package likelihoods

import (
	"slices"

	"github.com/anstkosh/botorch/priors"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Gaussian is a homoskedastic Gaussian likelihood with a learned noise level.
type Gaussian struct {
	// RawNoise has shape batchShape x 1; the positive noise variance is
	// softplus(RawNoise).
	RawNoise *tensors.Tensor

	// NoisePrior is the Gamma prior on the (positive) noise variance.
	NoisePrior *priors.Gamma
}

// NewGaussian creates a Gaussian likelihood with zero-initialized raw noise
// and the default Gamma prior.
func NewGaussian(dtype dtypes.DType, batchShape ...int) *Gaussian {
	dims := append(slices.Clone(batchShape), 1)
	return &Gaussian{
		RawNoise:   tensors.FromShape(shapes.Make(dtype, dims...)),
		NoisePrior: priors.DefaultNoisePrior(),
	}
}

// FixedNoise is a likelihood with known, data-supplied observation noise
// (one variance per training point). It has no trainable parameters and no
// prior, but the noise tensor is part of the model state.
type FixedNoise struct {
	// Noise has shape batchShape x n.
	Noise *tensors.Tensor
}

// NewFixedNoise creates a fixed-noise likelihood holding the given noise
// variances. The tensor is stored as-is (not copied).
func NewFixedNoise(noise *tensors.Tensor) *FixedNoise {
	return &FixedNoise{Noise: noise}
}
