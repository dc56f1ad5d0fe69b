// Package models implements the Bayesian-optimization model family and the
// structural converter between its two multi-output representations.
//
// A multi-output Gaussian Process can be represented either as a ModelList
// (independent single-output models, one per output) or as a single batched
// model whose parameter tensors carry a leading output axis. The two are
// views of the same logical model; ModelListToBatched and BatchedToModelList
// convert between them, preserving hyperparameter values and training data
// exactly (see converter.go).
//
// The model family is a closed set of variants -- SingleTaskGP (learned
// noise), FixedNoiseGP (observed noise) and HeteroskedasticSingleTaskGP
// (noise modeled by an internal GP) -- over the gomlx tensor substrate, with
// exact-GP posterior inference delegated to gonum.
//
// Models are not safe for concurrent use while their parameters are being
// mutated; callers fitting hyperparameters in place must synchronize around
// Posterior, conditioning and conversion calls.
package models

import (
	"github.com/anstkosh/botorch/boterrors"
	"github.com/anstkosh/botorch/posteriors"
	"github.com/anstkosh/botorch/sampling"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Model is a probabilistic model over one or more outputs.
//
// Posterior is the one required capability; ConditionOnObservations has a
// default implementation that fails with an UnimplementedError (embed
// unimplementedConditioner to get it), and Fantasize is provided as a package
// function written purely in terms of the interface.
type Model interface {
	// Posterior computes the joint posterior over the query points X, shaped
	// q x d (shared across the model's batch) or batchShape x q x d.
	//
	// outputIndices optionally restricts the posterior to a subset of the
	// model outputs (nil means all); observationNoise adds the observation
	// noise to the posterior covariance.
	//
	// Posterior never mutates the model's stored parameters.
	Posterior(X *tensors.Tensor, outputIndices []int, observationNoise bool) (posteriors.Posterior, error)

	// NumOutputs returns the number of outputs the model produces.
	NumOutputs() int

	// ConditionOnObservations returns a new model of the same type,
	// representing this model conditioned on the additional observations
	// (X, Y). X is shaped m x d; Y is shaped m x o (o = NumOutputs, may be
	// omitted when o is 1), optionally with extra leading sample dimensions,
	// which become leading batch dimensions of the returned model.
	//
	// The receiver is never mutated.
	ConditionOnObservations(X, Y *tensors.Tensor) (Model, error)
}

// unimplementedConditioner provides the default ConditionOnObservations,
// which fails with an UnimplementedError. Embed it in models that do not
// support conditioning.
type unimplementedConditioner struct{}

func (unimplementedConditioner) ConditionOnObservations(x, y *tensors.Tensor) (Model, error) {
	return nil, boterrors.Unimplementedf("ConditionOnObservations is not implemented for this model")
}

// Fantasize constructs a fantasy model from m:
//
//  1. compute the posterior at X (with observation noise if observationNoise);
//  2. draw joint samples from it with the sampler ("fake" observations,
//     shaped numFantasies x batchShape x m x o);
//  3. condition m on the sampled observations.
//
// The sample dimension becomes a leading batch dimension of the fantasy
// model. m itself is never mutated; a failure of any step is returned as-is.
func Fantasize(m Model, x *tensors.Tensor, sampler sampling.Sampler, observationNoise bool) (Model, error) {
	posterior, err := m.Posterior(x, nil, observationNoise)
	if err != nil {
		return nil, errors.WithMessage(err, "fantasize: computing posterior")
	}
	yFantasized, err := sampler.Sample(posterior)
	if err != nil {
		return nil, errors.WithMessage(err, "fantasize: sampling posterior")
	}
	fantasy, err := m.ConditionOnObservations(x, yFantasized)
	if err != nil {
		return nil, errors.WithMessage(err, "fantasize: conditioning on samples")
	}
	return fantasy, nil
}
