package models

import (
	"slices"

	"github.com/anstkosh/botorch/internal/f64"
	"github.com/anstkosh/botorch/params"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// normalizeEventTensor validates a tensor in the event layout
// (sampleShape x batchShape x m x o, with shorthands "m" and
// "sampleShape x m x 1" for single-output models) and rearranges it into the
// internal layout: sampleShape x batchShape [x o] x m [x 1]. The trailing
// singleton axis is added for targets (addTrailing) and omitted for noise.
func (m *gpModel) normalizeEventTensor(t *tensors.Tensor, mPts int, addTrailing bool) (*tensors.Tensor, error) {
	if t.DType() != m.dtype {
		return nil, errors.Errorf("new observations have dtype %s, model has %s", t.DType(), m.dtype)
	}
	dims := t.Shape().Dimensions
	rank := len(dims)
	if rank == 1 {
		if m.numOutputs != 1 || m.hasOutputAxis || len(m.batchShape) > 0 {
			return nil, errors.Errorf("new observations shaped %s require a plain single-output model", t.Shape())
		}
		if dims[0] != mPts {
			return nil, errors.Errorf("got %d new observations for %d new points", dims[0], mPts)
		}
		if addTrailing {
			return params.Reshape(t, mPts, 1), nil
		}
		return t, nil
	}
	if rank < 2 || dims[rank-1] != m.numOutputs || dims[rank-2] != mPts {
		return nil, errors.Errorf(
			"new observations must be shaped [sampleShape x batchShape x] %d x %d, got %s",
			mPts, m.numOutputs, t.Shape())
	}
	if !m.hasOutputAxis {
		// Single output: the trailing axis is already the singleton.
		if addTrailing {
			return t, nil
		}
		return params.Reshape(t, dims[:rank-1]...), nil
	}
	internal := splitOutputsToBatch(t) // ... x o x m
	if addTrailing {
		internal = params.Reshape(internal, append(slices.Clone(internal.Shape().Dimensions), 1)...)
	}
	return internal, nil
}

// conditionedCore builds the core of a model conditioned on the new
// observations (x, y): same hyperparameters, augmented training data. Extra
// leading dimensions of y (fantasy samples) become new leading batch
// dimensions, with the existing data and parameters broadcast along them.
//
// noiseEvent supplies the observation variances of the new points for
// fixed-noise variants (event layout, same shape as y); it must be nil for
// learned-noise models.
func (m *gpModel) conditionedCore(x, y, noiseEvent *tensors.Tensor) (*gpModel, error) {
	if x == nil || y == nil {
		return nil, errors.New("new observation inputs and targets must not be nil")
	}
	if x.DType() != m.dtype {
		return nil, errors.Errorf("new observation inputs have dtype %s, model has %s", x.DType(), m.dtype)
	}
	xDims := x.Shape().Dimensions
	if x.Rank() != 2 || xDims[1] != m.numDims {
		return nil, errors.Errorf("new observation inputs must be shaped m x %d, got %s", m.numDims, x.Shape())
	}
	mPts := xDims[0]

	yInternal, err := m.normalizeEventTensor(y, mPts, true)
	if err != nil {
		return nil, err
	}
	var noiseInternal *tensors.Tensor
	if m.noise != nil {
		if noiseEvent == nil {
			return nil, errors.New("conditioning a fixed-noise model requires observation noise for the new points")
		}
		noiseInternal, err = m.normalizeEventTensor(noiseEvent, mPts, false)
		if err != nil {
			return nil, err
		}
	} else if noiseEvent != nil {
		return nil, errors.New("learned-noise models do not accept observation noise when conditioning")
	}

	aug := m.augBatchShape()
	numSampleDims := yInternal.Rank() - len(aug) - 2
	yDims := yInternal.Shape().Dimensions
	if numSampleDims < 0 || !slices.Equal(yDims[numSampleDims:numSampleDims+len(aug)], aug) {
		return nil, errors.Errorf("new observations %s are incompatible with model batch shape %v", y.Shape(), aug)
	}
	sampleShape := slices.Clone(yDims[:numSampleDims])

	// Broadcasts a tensor along the new leading sample dimensions.
	expandSample := func(t *tensors.Tensor) *tensors.Tensor {
		for ii := len(sampleShape) - 1; ii >= 0; ii-- {
			t = params.ExpandAxis(t, 0, sampleShape[ii])
		}
		return t
	}

	// The new inputs are shared across all batch elements: broadcast them to
	// sampleShape x aug x m x d.
	xNew := x
	leading := append(slices.Clone(sampleShape), aug...)
	for ii := len(leading) - 1; ii >= 0; ii-- {
		xNew = params.ExpandAxis(xNew, 0, leading[ii])
	}

	nAxis := numSampleDims + len(aug)
	trainX := params.ConcatTensors(nAxis, expandSample(m.trainX), xNew)
	trainY := params.ConcatTensors(nAxis, expandSample(m.trainY), yInternal)
	var noise *tensors.Tensor
	if m.noise != nil {
		noise = params.ConcatTensors(nAxis, expandSample(m.noise), noiseInternal)
	}

	newBatchShape := append(slices.Clone(sampleShape), m.batchShape...)
	core := newGPFromParts(m.variant, trainX, trainY, noise,
		newBatchShape, m.numOutputs, m.hasOutputAxis, m.customLikelihood)
	core.copyPriorsFrom(m)

	state := m.StateBundle()
	expanded := params.NewBundle()
	for _, key := range state.Keys() {
		expanded.Set(key, expandSample(state.Get(key)))
	}
	if noise != nil {
		// The fixed noise grew with the training data; the broadcast of the
		// old tensor no longer matches.
		expanded.Set(keyFixedNoise, noise)
	}
	if err := core.loadState(expanded); err != nil {
		return nil, err
	}
	return core, nil
}

// conditionedCoreWithMeanNoise conditions a fixed-noise model using the mean
// of the stored training noise (per batch element) as the observation
// variance of the new points.
func (m *gpModel) conditionedCoreWithMeanNoise(x, y *tensors.Tensor) (*gpModel, error) {
	if y == nil {
		return nil, errors.New("new observation targets must not be nil")
	}
	noiseFlat := f64.FromTensor(m.noise)
	numAug := len(noiseFlat) / m.numTrain
	meanNoise := make([]float64, numAug)
	for augIdx := range numAug {
		total := 0.0
		for jj := range m.numTrain {
			total += noiseFlat[augIdx*m.numTrain+jj]
		}
		meanNoise[augIdx] = total / float64(m.numTrain)
	}

	// Build the noise in y's event layout; within it, the batch dimensions
	// are the trailing prefix dimensions, so the right mean can be picked
	// from the flat position alone.
	yDims := y.Shape().Dimensions
	values := make([]float64, y.Shape().Size())
	if len(yDims) == 1 {
		for ii := range values {
			values[ii] = meanNoise[0]
		}
	} else {
		o := yDims[len(yDims)-1]
		mPts := yDims[len(yDims)-2]
		numBatch := 1
		for _, dim := range m.batchShape {
			numBatch *= dim
		}
		for ee := range values {
			oi := ee % o
			prefix := ee / (o * mPts)
			flatBatch := prefix % numBatch
			augIdx := flatBatch
			if m.hasOutputAxis {
				augIdx = flatBatch*m.numOutputs + oi
			}
			if augIdx < numAug {
				values[ee] = meanNoise[augIdx]
			}
		}
	}
	noiseEvent := f64.ToTensor(m.dtype, values, yDims...)
	return m.conditionedCore(x, y, noiseEvent)
}
