package models

import (
	"math"
	"slices"

	"github.com/anstkosh/botorch/boterrors"
	"github.com/anstkosh/botorch/internal/f64"
	"github.com/anstkosh/botorch/kernels"
	"github.com/anstkosh/botorch/likelihoods"
	"github.com/anstkosh/botorch/means"
	"github.com/anstkosh/botorch/params"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// gpVariant discriminates the closed set of GP model variants. It is decided
// at construction time, so the converter can match on it instead of probing
// attributes.
type gpVariant int

const (
	variantSingleTask gpVariant = iota
	variantFixedNoise
	variantHeteroskedastic
)

func (v gpVariant) String() string {
	switch v {
	case variantSingleTask:
		return "SingleTaskGP"
	case variantFixedNoise:
		return "FixedNoiseGP"
	case variantHeteroskedastic:
		return "HeteroskedasticSingleTaskGP"
	}
	return "unknown"
}

// State bundle keys shared by the GP family.
const (
	keyMeanConstant  = "mean/constant"
	keyOutputscale   = "kernel/raw_outputscale"
	keyLengthscale   = "kernel/base/raw_lengthscale"
	keyRawNoise      = "likelihood/raw_noise"
	keyFixedNoise    = "likelihood/noise"
	noiseModelPrefix = "noise_model/"
)

// gpModel holds the state shared by the GP family.
//
// Tensor layout convention (the batched representation): every data and
// parameter tensor carries the model's batch dimensions as leading axes. For
// a multi-output model the output axis is the last batch axis, at position
// len(batchShape):
//
//	trainX: batchShape [x o] x n x d
//	trainY: batchShape [x o] x n x 1
//	noise:  batchShape [x o] x n        (fixed-noise variants)
//	params: batchShape [x o] x <parameter dims>
//
// hasOutputAxis records whether the "[x o]" axis is present; a plain
// single-output model does not have it, a converter-built batched model
// always does, even with a single output (the degenerate case).
type gpModel struct {
	variant gpVariant
	dtype   dtypes.DType

	trainX *tensors.Tensor
	trainY *tensors.Tensor
	noise  *tensors.Tensor // Fixed observation noise; nil for learned noise.

	batchShape    []int // Excludes the output axis.
	numOutputs    int
	hasOutputAxis bool
	numTrain      int
	numDims       int

	mean       *means.Constant
	kernel     *kernels.Scale
	likelihood *likelihoods.Gaussian // nil for fixed-noise variants.

	// customLikelihood is set when the likelihood was supplied by the caller
	// rather than built by the constructor; such models cannot be converted.
	customLikelihood bool
}

// newGPFromParts assembles a gpModel from already-normalized tensors (see
// gpModel layout) with freshly built, default-initialized modules. Callers
// that need specific hyperparameter values follow up with loadState.
func newGPFromParts(variant gpVariant, trainX, trainY, noise *tensors.Tensor,
	batchShape []int, numOutputs int, hasOutputAxis, customLikelihood bool) *gpModel {
	dtype := trainX.DType()
	xDims := trainX.Shape().Dimensions
	m := &gpModel{
		variant:          variant,
		dtype:            dtype,
		trainX:           trainX,
		trainY:           trainY,
		noise:            noise,
		batchShape:       slices.Clone(batchShape),
		numOutputs:       numOutputs,
		hasOutputAxis:    hasOutputAxis,
		numTrain:         xDims[len(xDims)-2],
		numDims:          xDims[len(xDims)-1],
		customLikelihood: customLikelihood,
	}
	aug := m.augBatchShape()
	m.mean = means.NewConstant(dtype, aug...)
	m.kernel = kernels.NewScale(dtype, m.numDims, aug...)
	if variant == variantSingleTask {
		m.likelihood = likelihoods.NewGaussian(dtype, aug...)
	}
	return m
}

// augBatchShape returns the full batch shape of the parameter tensors,
// including the output axis when present.
func (m *gpModel) augBatchShape() []int {
	if !m.hasOutputAxis {
		return slices.Clone(m.batchShape)
	}
	return append(slices.Clone(m.batchShape), m.numOutputs)
}

// outputAxis is the position of the output axis in data/parameter tensors.
func (m *gpModel) outputAxis() int { return len(m.batchShape) }

// NumOutputs implements Model.
func (m *gpModel) NumOutputs() int { return m.numOutputs }

// BatchShape returns the model's batch dimensions, excluding the output axis.
func (m *gpModel) BatchShape() []int { return slices.Clone(m.batchShape) }

// DType of the model's data and parameter tensors.
func (m *gpModel) DType() dtypes.DType { return m.dtype }

// TrainingInputs returns the stored training inputs (internal layout, not a
// copy -- callers must not mutate).
func (m *gpModel) TrainingInputs() *tensors.Tensor { return m.trainX }

// TrainingTargets returns the stored training targets (internal layout, not
// a copy).
func (m *gpModel) TrainingTargets() *tensors.Tensor { return m.trainY }

// ObservedNoise returns the fixed observation-noise tensor, or nil for
// learned-noise models.
func (m *gpModel) ObservedNoise() *tensors.Tensor { return m.noise }

// Likelihood returns the learned-noise likelihood, or nil for fixed-noise
// variants.
func (m *gpModel) Likelihood() *likelihoods.Gaussian { return m.likelihood }

// Kernel returns the covariance module.
func (m *gpModel) Kernel() *kernels.Scale { return m.kernel }

// Mean returns the mean module.
func (m *gpModel) Mean() *means.Constant { return m.mean }

// StateBundle returns the model's full parameter state as a flat, name-keyed
// bundle. The returned bundle references the live tensors; clone it before
// mutating.
func (m *gpModel) StateBundle() *params.Bundle {
	bundle := params.NewBundle().
		Set(keyMeanConstant, m.mean.Value).
		Set(keyOutputscale, m.kernel.RawOutputscale).
		Set(keyLengthscale, m.kernel.Base.RawLengthscale)
	if m.likelihood != nil {
		bundle.Set(keyRawNoise, m.likelihood.RawNoise)
	}
	if m.noise != nil {
		bundle.Set(keyFixedNoise, m.noise)
	}
	return bundle
}

// loadState overwrites every parameter with the identically named entry of
// the bundle, copying the values. The bundle must contain exactly the model's
// parameter names, with matching shapes.
func (m *gpModel) loadState(bundle *params.Bundle) error {
	expected := m.StateBundle()
	if bundle.Len() != expected.Len() {
		return errors.Errorf("state bundle has parameters %v, model expects %v", bundle.Keys(), expected.Keys())
	}
	for _, key := range expected.Keys() {
		t := bundle.Get(key)
		if t == nil {
			return errors.Errorf("state bundle is missing parameter %q", key)
		}
		want := expected.Get(key).Shape()
		if !t.Shape().Equal(want) {
			return errors.Errorf("state bundle parameter %q has shape %s, model expects %s", key, t.Shape(), want)
		}
	}
	m.mean.Value = bundle.Get(keyMeanConstant).LocalClone()
	m.kernel.RawOutputscale = bundle.Get(keyOutputscale).LocalClone()
	m.kernel.Base.RawLengthscale = bundle.Get(keyLengthscale).LocalClone()
	if m.likelihood != nil {
		m.likelihood.RawNoise = bundle.Get(keyRawNoise).LocalClone()
	}
	if m.noise != nil {
		m.noise = bundle.Get(keyFixedNoise).LocalClone()
	}
	return nil
}

// copyPriorsFrom shares src's hyperparameter priors. Priors are immutable
// value holders, so sharing the pointers is safe.
func (m *gpModel) copyPriorsFrom(src *gpModel) {
	m.kernel.OutputscalePrior = src.kernel.OutputscalePrior
	m.kernel.Base.LengthscalePrior = src.kernel.Base.LengthscalePrior
	if m.likelihood != nil && src.likelihood != nil {
		m.likelihood.NoisePrior = src.likelihood.NoisePrior
	}
}

// cloneCore returns a deep copy of the model core.
func (m *gpModel) cloneCore() *gpModel {
	var noise *tensors.Tensor
	if m.noise != nil {
		noise = m.noise.LocalClone()
	}
	clone := newGPFromParts(m.variant, m.trainX.LocalClone(), m.trainY.LocalClone(), noise,
		m.batchShape, m.numOutputs, m.hasOutputAxis, m.customLikelihood)
	clone.copyPriorsFrom(m)
	if err := clone.loadState(m.StateBundle()); err != nil {
		// The bundles are built from the same variant, shapes always match.
		panic(err)
	}
	return clone
}

// normalizeTrainingData validates user-supplied training tensors and
// rearranges them into the internal layout. Returns the augmented X
// (batchShape [x o] x n x d), Y (batchShape [x o] x n x 1), the batch shape,
// the number of outputs and whether an output axis was added.
func normalizeTrainingData(trainX, trainY *tensors.Tensor) (x, y *tensors.Tensor, batchShape []int, numOutputs int, hasOutputAxis bool, err error) {
	if trainX == nil || trainY == nil {
		err = errors.New("training inputs and targets must not be nil")
		return
	}
	if !f64.IsSupported(trainX.DType()) {
		err = errors.Errorf("unsupported dtype %s, only Float32 and Float64 are supported", trainX.DType())
		return
	}
	if trainY.DType() != trainX.DType() {
		err = errors.Errorf("training inputs dtype %s and targets dtype %s differ", trainX.DType(), trainY.DType())
		return
	}
	xDims := trainX.Shape().Dimensions
	if len(xDims) < 2 {
		err = errors.Errorf("training inputs must be shaped batchShape x n x d, got %s", trainX.Shape())
		return
	}
	batchShape = slices.Clone(xDims[:len(xDims)-2])
	n := xDims[len(xDims)-2]
	yDims := trainY.Shape().Dimensions
	switch len(yDims) {
	case len(xDims) - 1: // batchShape x n, implicit single output.
		numOutputs = 1
	case len(xDims): // batchShape x n x o.
		numOutputs = yDims[len(yDims)-1]
	default:
		err = errors.Errorf("training targets must be shaped batchShape x n or batchShape x n x o, got %s for inputs %s",
			trainY.Shape(), trainX.Shape())
		return
	}
	if !slices.Equal(yDims[:len(batchShape)], batchShape) || yDims[len(batchShape)] != n {
		err = errors.Errorf("training targets %s do not match training inputs %s", trainY.Shape(), trainX.Shape())
		return
	}
	if numOutputs == 1 {
		x = trainX
		y = params.Reshape(trainY, append(slices.Clone(batchShape), n, 1)...)
		return
	}
	// Multi-output: add the output axis as the last batch axis.
	hasOutputAxis = true
	x = params.ExpandAxis(trainX, len(batchShape), numOutputs)
	y = splitOutputsToBatch(trainY) // batchShape x o x n
	y = params.Reshape(y, append(y.Shape().Clone().Dimensions, 1)...)
	return
}

// splitOutputsToBatch rearranges ... x n x o into ... x o x n.
func splitOutputsToBatch(t *tensors.Tensor) *tensors.Tensor {
	dims := t.Shape().Dimensions
	rank := len(dims)
	n, o := dims[rank-2], dims[rank-1]
	outer := 1
	for _, dim := range dims[:rank-2] {
		outer *= dim
	}
	newDims := slices.Clone(dims)
	newDims[rank-2], newDims[rank-1] = o, n
	elem := int(t.DType().Memory())
	out := tensors.FromShape(shapes.Make(t.DType(), newDims...))
	out.MutableBytes(func(dst []byte) {
		t.ConstBytes(func(src []byte) {
			for bb := range outer {
				base := bb * n * o
				for ii := range n {
					for jj := range o {
						srcOff := (base + ii*o + jj) * elem
						dstOff := (base + jj*n + ii) * elem
						copy(dst[dstOff:dstOff+elem], src[srcOff:srcOff+elem])
					}
				}
			}
		})
	})
	return out
}

// GPOption configures the GP constructors.
type GPOption func(*gpOptions)

type gpOptions struct {
	likelihood *likelihoods.Gaussian
}

// WithLikelihood supplies a custom Gaussian likelihood instead of the default
// one. Models built with a custom likelihood cannot be converted between the
// batched and model-list representations.
func WithLikelihood(likelihood *likelihoods.Gaussian) GPOption {
	return func(opts *gpOptions) { opts.likelihood = likelihood }
}

// SingleTaskGP is a GP regression model with learned homoskedastic
// observation noise (a Gaussian likelihood with a Gamma noise prior).
type SingleTaskGP struct {
	gpModel
}

var _ Model = (*SingleTaskGP)(nil)

// NewSingleTaskGP creates a SingleTaskGP from training inputs shaped
// batchShape x n x d and targets shaped batchShape x n (x o). A trailing
// output dimension o > 1 produces a batched multi-output model.
func NewSingleTaskGP(trainX, trainY *tensors.Tensor, opts ...GPOption) (*SingleTaskGP, error) {
	var options gpOptions
	for _, opt := range opts {
		opt(&options)
	}
	x, y, batchShape, numOutputs, hasOutputAxis, err := normalizeTrainingData(trainX, trainY)
	if err != nil {
		return nil, err
	}
	core := newGPFromParts(variantSingleTask, x, y, nil, batchShape, numOutputs, hasOutputAxis, options.likelihood != nil)
	if options.likelihood != nil {
		want := core.likelihood.RawNoise.Shape()
		if !options.likelihood.RawNoise.Shape().Equal(want) {
			return nil, errors.Errorf("custom likelihood raw noise has shape %s, model expects %s",
				options.likelihood.RawNoise.Shape(), want)
		}
		core.likelihood = options.likelihood
	}
	return &SingleTaskGP{gpModel: *core}, nil
}

// ConditionOnObservations implements Model.
func (m *SingleTaskGP) ConditionOnObservations(x, y *tensors.Tensor) (Model, error) {
	core, err := m.conditionedCore(x, y, nil)
	if err != nil {
		return nil, err
	}
	return &SingleTaskGP{gpModel: *core}, nil
}

// FixedNoiseGP is a GP regression model with known, data-supplied observation
// noise (one variance per training point).
type FixedNoiseGP struct {
	gpModel
}

var _ Model = (*FixedNoiseGP)(nil)

// NewFixedNoiseGP creates a FixedNoiseGP. trainX and trainY follow the
// NewSingleTaskGP conventions; noise holds the observation variances and must
// have the same shape as trainY.
func NewFixedNoiseGP(trainX, trainY, noise *tensors.Tensor) (*FixedNoiseGP, error) {
	core, err := newFixedNoiseCore(variantFixedNoise, trainX, trainY, noise)
	if err != nil {
		return nil, err
	}
	return &FixedNoiseGP{gpModel: *core}, nil
}

func newFixedNoiseCore(variant gpVariant, trainX, trainY, noise *tensors.Tensor) (*gpModel, error) {
	if noise == nil {
		return nil, errors.New("observation noise must not be nil")
	}
	if !noise.Shape().Equal(trainY.Shape()) {
		return nil, errors.Errorf("observation noise %s must have the same shape as training targets %s",
			noise.Shape(), trainY.Shape())
	}
	x, y, batchShape, numOutputs, hasOutputAxis, err := normalizeTrainingData(trainX, trainY)
	if err != nil {
		return nil, err
	}
	// The noise follows the same rearrangement as the targets, minus the
	// trailing singleton axis.
	var noiseInternal *tensors.Tensor
	if hasOutputAxis {
		noiseInternal = splitOutputsToBatch(noise)
	} else {
		dims := y.Shape().Dimensions
		noiseInternal = params.Reshape(noise, dims[:len(dims)-1]...)
	}
	return newGPFromParts(variant, x, y, noiseInternal, batchShape, numOutputs, hasOutputAxis, false), nil
}

// FixedNoiseLikelihood returns the model's noise specification. The wrapped
// tensor is the live one, shared with the model.
func (m *FixedNoiseGP) FixedNoiseLikelihood() *likelihoods.FixedNoise {
	return likelihoods.NewFixedNoise(m.noise)
}

// ConditionOnObservations implements Model. The observation noise for the new
// points is taken to be the mean of the stored training noise (per batch
// element); use ConditionOnObservationsWithNoise to supply measured noise.
func (m *FixedNoiseGP) ConditionOnObservations(x, y *tensors.Tensor) (Model, error) {
	core, err := m.conditionedCoreWithMeanNoise(x, y)
	if err != nil {
		return nil, err
	}
	return &FixedNoiseGP{gpModel: *core}, nil
}

// ConditionOnObservationsWithNoise conditions on new observations with known
// observation variances. noise must have the same shape as y.
func (m *FixedNoiseGP) ConditionOnObservationsWithNoise(x, y, noise *tensors.Tensor) (Model, error) {
	if noise == nil {
		return nil, errors.New("observation noise must not be nil")
	}
	if !noise.Shape().Equal(y.Shape()) {
		return nil, errors.Errorf("observation noise %s must have the same shape as the new targets %s",
			noise.Shape(), y.Shape())
	}
	core, err := m.conditionedCore(x, y, noise)
	if err != nil {
		return nil, err
	}
	return &FixedNoiseGP{gpModel: *core}, nil
}

// HeteroskedasticSingleTaskGP is a GP regression model with heteroskedastic
// observation noise: the observed variances are used directly for inference
// and additionally modeled by an internal SingleTaskGP fit on their logs.
//
// Its composite parameter layout cannot be sliced or stacked unambiguously,
// so it supports neither direction of the batched<->model-list conversion.
type HeteroskedasticSingleTaskGP struct {
	FixedNoiseGP
	noiseModel *SingleTaskGP
}

var _ Model = (*HeteroskedasticSingleTaskGP)(nil)

// NewHeteroskedasticSingleTaskGP creates a HeteroskedasticSingleTaskGP. yVar
// holds the observed variances of trainY (same shape, strictly positive).
func NewHeteroskedasticSingleTaskGP(trainX, trainY, yVar *tensors.Tensor) (*HeteroskedasticSingleTaskGP, error) {
	core, err := newFixedNoiseCore(variantHeteroskedastic, trainX, trainY, yVar)
	if err != nil {
		return nil, err
	}
	logVar := f64.FromTensor(yVar)
	for ii, v := range logVar {
		if v <= 0 {
			return nil, errors.Errorf("observed variances must be positive, got %g at flat position %d", v, ii)
		}
		logVar[ii] = math.Log(v)
	}
	noiseModel, err := NewSingleTaskGP(trainX, f64.ToTensor(yVar.DType(), logVar, yVar.Shape().Dimensions...))
	if err != nil {
		return nil, errors.WithMessage(err, "building noise model")
	}
	return &HeteroskedasticSingleTaskGP{
		FixedNoiseGP: FixedNoiseGP{gpModel: *core},
		noiseModel:   noiseModel,
	}, nil
}

// NoiseModel returns the internal GP modeling the log observation variances.
func (m *HeteroskedasticSingleTaskGP) NoiseModel() *SingleTaskGP { return m.noiseModel }

// StateBundle includes the noise model's parameters under the
// "noise_model/" prefix.
func (m *HeteroskedasticSingleTaskGP) StateBundle() *params.Bundle {
	bundle := m.gpModel.StateBundle()
	noiseBundle := m.noiseModel.StateBundle()
	for _, key := range noiseBundle.Keys() {
		bundle.Set(noiseModelPrefix+key, noiseBundle.Get(key))
	}
	return bundle
}

// ConditionOnObservations implements Model: conditioning a heteroskedastic
// model would require new observed variances for both the data GP and the
// internal noise GP, which is not implemented.
func (m *HeteroskedasticSingleTaskGP) ConditionOnObservations(x, y *tensors.Tensor) (Model, error) {
	return nil, boterrors.Unimplementedf("ConditionOnObservations is not implemented for HeteroskedasticSingleTaskGP")
}
