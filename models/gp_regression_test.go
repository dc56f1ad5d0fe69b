package models

import (
	"math"
	"testing"

	"github.com/anstkosh/botorch/boterrors"
	"github.com/anstkosh/botorch/internal/f64"
	"github.com/anstkosh/botorch/likelihoods"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineData builds 6 well-spaced one-feature points and their targets.
func lineData(dtype dtypes.DType) (x, y *tensors.Tensor, ys []float64) {
	xs := []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0}
	ys = []float64{0.1, 0.3, 0.2, 0.6, 0.5, 0.9}
	return f64.ToTensor(dtype, xs, 6, 1), f64.ToTensor(dtype, ys, 6), ys
}

func TestNewSingleTaskGPShapes(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	m := must.M1(NewSingleTaskGP(x, y))
	assert.Equal(t, 1, m.NumOutputs())
	assert.Empty(t, m.BatchShape())
	assert.Equal(t, dtypes.Float64, m.DType())
	assert.Equal(t, []int{6, 1}, m.TrainingTargets().Shape().Dimensions)
	assert.Equal(t, []int{1}, m.Mean().Value.Shape().Dimensions)
	assert.Equal(t, []int{1, 1}, m.Kernel().Base.RawLengthscale.Shape().Dimensions)
	assert.Equal(t, 0, m.Kernel().RawOutputscale.Rank())
	assert.Equal(t, []int{1}, m.Likelihood().RawNoise.Shape().Dimensions)
	assert.Nil(t, m.ObservedNoise())

	// An explicit trailing singleton on the targets is equivalent.
	yCol := f64.ToTensor(dtypes.Float64, f64.FromTensor(y), 6, 1)
	mCol := must.M1(NewSingleTaskGP(x, yCol))
	assert.True(t, mCol.TrainingTargets().Equal(m.TrainingTargets()))
	assert.Equal(t, 1, mCol.NumOutputs())
}

func TestNewSingleTaskGPMultiOutputShapes(t *testing.T) {
	dtype := dtypes.Float32
	x, y1, y2 := trainingData(dtype)
	m := must.M1(NewSingleTaskGP(x, interleave(dtype, y1, y2)))
	assert.Equal(t, 2, m.NumOutputs())
	assert.Empty(t, m.BatchShape())
	assert.Equal(t, []int{2, 10, 2}, m.TrainingInputs().Shape().Dimensions)
	assert.Equal(t, []int{2, 10, 1}, m.TrainingTargets().Shape().Dimensions)
	assert.Equal(t, []int{2, 1, 2}, m.Kernel().Base.RawLengthscale.Shape().Dimensions)
	assert.Equal(t, []int{2}, m.Kernel().RawOutputscale.Shape().Dimensions)
}

func TestNewSingleTaskGPValidation(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)

	_, err := NewSingleTaskGP(nil, y)
	require.Error(t, err)
	_, err = NewSingleTaskGP(x, nil)
	require.Error(t, err)

	_, err = NewSingleTaskGP(x, f64.ToTensor(dtypes.Float32, f64.FromTensor(y), 6))
	require.Error(t, err, "targets dtype must match inputs dtype")

	_, err = NewSingleTaskGP(tensors.FromValue([][]int32{{1, 2}, {3, 4}}), tensors.FromValue([]int32{1, 2}))
	require.Error(t, err, "integer tensors are not supported")

	_, err = NewSingleTaskGP(x, f64.ToTensor(dtypes.Float64, []float64{1, 2, 3}, 3))
	require.Error(t, err, "target count must match input count")

	_, err = NewSingleTaskGP(x, y, WithLikelihood(likelihoods.NewGaussian(dtypes.Float64, 3)))
	require.Error(t, err, "custom likelihood shape must match the model")
}

func TestSingleTaskGPPosteriorInterpolates(t *testing.T) {
	for _, dtype := range testDTypes {
		t.Run(dtype.String(), func(t *testing.T) {
			x, y, ys := lineData(dtype)
			m := must.M1(NewSingleTaskGP(x, y))
			m.Likelihood().RawNoise = f64.ToTensor(dtype, []float64{f64.SoftplusInv(1e-6)}, 1)

			p, err := m.Posterior(x, nil, false)
			require.NoError(t, err)
			require.Equal(t, []int{6, 1}, p.Mean().Shape().Dimensions)
			mean := f64.FromTensor(p.Mean())
			variance := f64.FromTensor(p.Variance())
			for ii := range ys {
				assert.InDelta(t, ys[ii], mean[ii], 1e-2, "posterior mean at training point %d", ii)
				assert.GreaterOrEqual(t, variance[ii], 0.0)
				assert.Less(t, variance[ii], 1e-2, "posterior variance at training point %d", ii)
			}
		})
	}
}

func TestPosteriorObservationNoise(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	m := must.M1(NewSingleTaskGP(x, y))
	m.Likelihood().RawNoise = f64.ToTensor(dtypes.Float64, []float64{f64.SoftplusInv(0.5)}, 1)

	xQ := f64.ToTensor(dtypes.Float64, []float64{0.35, 0.75}, 2, 1)
	noiseless := must.M1(m.Posterior(xQ, nil, false))
	noisy := must.M1(m.Posterior(xQ, nil, true))
	v0 := f64.FromTensor(noiseless.Variance())
	v1 := f64.FromTensor(noisy.Variance())
	for ii := range v0 {
		assert.InDelta(t, 0.5, v1[ii]-v0[ii], 1e-9, "observation noise added at point %d", ii)
	}
}

func TestPosteriorValidation(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	m := must.M1(NewSingleTaskGP(x, y))

	_, err := m.Posterior(nil, nil, false)
	require.Error(t, err)

	_, err = m.Posterior(f64.ToTensor(dtypes.Float64, []float64{1, 2, 3, 4}, 2, 2), nil, false)
	require.Error(t, err, "feature count must match training data")

	xQ := f64.ToTensor(dtypes.Float64, []float64{0.5}, 1, 1)
	_, err = m.Posterior(xQ, []int{1}, false)
	require.Error(t, err, "output index out of range")

	_, err = m.Posterior(f64.ToTensor(dtypes.Float32, []float64{0.5}, 1, 1), nil, false)
	require.Error(t, err, "query dtype must match the model")
}

func TestBatchedPosteriorMatchesMembers(t *testing.T) {
	dtype := dtypes.Float64
	x, y1, y2 := trainingData(dtype)
	m1 := must.M1(NewSingleTaskGP(x, y1))
	m2 := must.M1(NewSingleTaskGP(x, y2))
	setCoreParams(&m1.gpModel, 0.25, -0.5, 0.75)
	setCoreParams(&m2.gpModel, -0.5, 0.25, -0.25)
	batched := must.M1(ModelListToBatched(must.M1(NewModelList(m1, m2))))

	xQ := f64.ToTensor(dtype, []float64{0.1, 0.9, 0.6, 0.7}, 2, 2)
	joint := must.M1(batched.Posterior(xQ, nil, false))
	require.Equal(t, []int{2, 2}, joint.Mean().Shape().Dimensions)
	jointMean := f64.FromTensor(joint.Mean())
	mean1 := f64.FromTensor(must.M1(m1.Posterior(xQ, nil, false)).Mean())
	mean2 := f64.FromTensor(must.M1(m2.Posterior(xQ, nil, false)).Mean())
	for qq := range 2 {
		assert.InDelta(t, mean1[qq], jointMean[2*qq], 1e-12)
		assert.InDelta(t, mean2[qq], jointMean[2*qq+1], 1e-12)
	}

	// Selecting one output of the batched model matches the source member.
	single := must.M1(batched.Posterior(xQ, []int{1}, false))
	require.Equal(t, []int{2, 1}, single.Mean().Shape().Dimensions)
	singleMean := f64.FromTensor(single.Mean())
	for qq := range 2 {
		assert.InDelta(t, mean2[qq], singleMean[qq], 1e-12)
	}
}

func TestConditionOnObservations(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	m := must.M1(NewSingleTaskGP(x, y))
	m.Likelihood().RawNoise = f64.ToTensor(dtypes.Float64, []float64{f64.SoftplusInv(1e-6)}, 1)

	xNew := f64.ToTensor(dtypes.Float64, []float64{0.3, 0.7}, 2, 1)
	yNew := f64.ToTensor(dtypes.Float64, []float64{0.25, 0.55}, 2)
	cond := must.M1(m.ConditionOnObservations(xNew, yNew))
	gp, ok := cond.(*SingleTaskGP)
	require.True(t, ok)
	assert.Equal(t, []int{8, 1}, gp.TrainingInputs().Shape().Dimensions)
	assert.Equal(t, []int{8, 1}, gp.TrainingTargets().Shape().Dimensions)
	assert.True(t, gp.StateBundle().Equal(m.StateBundle()), "conditioning must not change hyperparameters")

	p := must.M1(gp.Posterior(xNew, nil, false))
	mean := f64.FromTensor(p.Mean())
	assert.InDelta(t, 0.25, mean[0], 1e-2)
	assert.InDelta(t, 0.55, mean[1], 1e-2)

	// The original model is untouched.
	assert.Equal(t, []int{6, 1}, m.TrainingInputs().Shape().Dimensions)

	// A trailing singleton on the new targets is equivalent.
	yNewCol := f64.ToTensor(dtypes.Float64, []float64{0.25, 0.55}, 2, 1)
	condCol := must.M1(m.ConditionOnObservations(xNew, yNewCol))
	assert.True(t, condCol.(*SingleTaskGP).TrainingTargets().Equal(gp.TrainingTargets()))
}

func TestConditionOnObservationsSampleShape(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	m := must.M1(NewSingleTaskGP(x, y))

	// Targets with a leading sample dimension produce a batched model.
	xNew := f64.ToTensor(dtypes.Float64, []float64{0.3, 0.7}, 2, 1)
	ySamples := f64.ToTensor(dtypes.Float64, []float64{0.2, 0.5, 0.3, 0.6, 0.4, 0.7, 0.1, 0.8}, 4, 2, 1)
	cond := must.M1(m.ConditionOnObservations(xNew, ySamples))
	gp := cond.(*SingleTaskGP)
	assert.Equal(t, []int{4}, gp.BatchShape())
	assert.Equal(t, []int{4, 8, 1}, gp.TrainingInputs().Shape().Dimensions)
	assert.Equal(t, []int{4, 1}, gp.Mean().Value.Shape().Dimensions)
}

func TestConditionOnObservationsValidation(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	m := must.M1(NewSingleTaskGP(x, y))

	yNew := f64.ToTensor(dtypes.Float64, []float64{0.25, 0.55}, 2)
	_, err := m.ConditionOnObservations(f64.ToTensor(dtypes.Float64, []float64{1, 2, 3, 4}, 2, 2), yNew)
	require.Error(t, err, "feature count must match training data")

	xNew := f64.ToTensor(dtypes.Float64, []float64{0.3, 0.7}, 2, 1)
	_, err = m.ConditionOnObservations(xNew, f64.ToTensor(dtypes.Float64, []float64{0.25}, 1))
	require.Error(t, err, "target count must match the new inputs")

	_, err = m.ConditionOnObservations(xNew, f64.ToTensor(dtypes.Float32, []float64{0.25, 0.55}, 2))
	require.Error(t, err, "dtype must match the model")
}

func TestFixedNoiseGPConditioning(t *testing.T) {
	dtype := dtypes.Float64
	x, y, _ := lineData(dtype)
	noise := f64.ToTensor(dtype, []float64{1e-4, 1e-4, 2e-4, 2e-4, 3e-4, 3e-4}, 6)
	m := must.M1(NewFixedNoiseGP(x, y, noise))
	require.Equal(t, []int{6}, m.ObservedNoise().Shape().Dimensions)
	assert.True(t, m.FixedNoiseLikelihood().Noise.Equal(noise))

	xNew := f64.ToTensor(dtype, []float64{0.3, 0.7}, 2, 1)
	yNew := f64.ToTensor(dtype, []float64{0.25, 0.55}, 2)

	// Without measured noise the stored mean noise is used for the new points.
	cond := must.M1(m.ConditionOnObservations(xNew, yNew))
	gp := cond.(*FixedNoiseGP)
	require.Equal(t, []int{8}, gp.ObservedNoise().Shape().Dimensions)
	noiseFlat := f64.FromTensor(gp.ObservedNoise())
	assert.InDelta(t, 2e-4, noiseFlat[6], 1e-12)
	assert.InDelta(t, 2e-4, noiseFlat[7], 1e-12)

	// With measured noise the supplied values are stored as-is.
	yVarNew := f64.ToTensor(dtype, []float64{9e-4, 4e-4}, 2)
	condN := must.M1(m.ConditionOnObservationsWithNoise(xNew, yNew, yVarNew))
	noiseFlat = f64.FromTensor(condN.(*FixedNoiseGP).ObservedNoise())
	assert.Equal(t, 9e-4, noiseFlat[6])
	assert.Equal(t, 4e-4, noiseFlat[7])

	_, err := m.ConditionOnObservationsWithNoise(xNew, yNew, nil)
	require.Error(t, err)
	_, err = m.ConditionOnObservationsWithNoise(xNew, yNew, f64.ToTensor(dtype, []float64{1e-4}, 1))
	require.Error(t, err, "noise shape must match the new targets")
}

func TestNewFixedNoiseGPValidation(t *testing.T) {
	x, y, _ := lineData(dtypes.Float64)
	_, err := NewFixedNoiseGP(x, y, nil)
	require.Error(t, err)
	_, err = NewFixedNoiseGP(x, y, f64.ToTensor(dtypes.Float64, []float64{1, 2, 3}, 3))
	require.Error(t, err, "noise shape must match the targets")
}

func TestHeteroskedasticSingleTaskGP(t *testing.T) {
	dtype := dtypes.Float64
	x, y, _ := lineData(dtype)
	yVarValues := []float64{0.01, 0.02, 0.01, 0.03, 0.02, 0.01}
	yVar := f64.ToTensor(dtype, yVarValues, 6)

	m := must.M1(NewHeteroskedasticSingleTaskGP(x, y, yVar))
	require.NotNil(t, m.NoiseModel())
	assert.True(t, m.ObservedNoise().Equal(yVar))

	// The internal noise model is fit on the log variances.
	logVar := make([]float64, len(yVarValues))
	for ii, v := range yVarValues {
		logVar[ii] = math.Log(v)
	}
	assert.True(t, m.NoiseModel().TrainingTargets().Equal(f64.ToTensor(dtype, logVar, 6, 1)))

	// The state bundle nests the noise model's parameters.
	bundle := m.StateBundle()
	assert.True(t, bundle.Has("noise_model/mean/constant"))
	assert.True(t, bundle.Has("noise_model/kernel/base/raw_lengthscale"))

	_, err := m.ConditionOnObservations(x, y)
	require.True(t, boterrors.IsUnimplemented(err), "got %v", err)

	// Variances must be strictly positive.
	bad := f64.ToTensor(dtype, []float64{0.01, 0, 0.01, 0.01, 0.01, 0.01}, 6)
	_, err = NewHeteroskedasticSingleTaskGP(x, y, bad)
	require.Error(t, err)
}

func TestStateBundleLoadRoundTrip(t *testing.T) {
	x, y1, _ := trainingData(dtypes.Float64)
	m1 := must.M1(NewSingleTaskGP(x, y1))
	m2 := must.M1(NewSingleTaskGP(x, y1))
	setCoreParams(&m1.gpModel, 0.25, -0.5, 0.75)
	require.False(t, m2.StateBundle().Equal(m1.StateBundle()))

	require.NoError(t, m2.loadState(m1.StateBundle()))
	assert.True(t, m2.StateBundle().Equal(m1.StateBundle()))
}
