package params

import (
	"testing"

	"github.com/anstkosh/botorch/boterrors"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackAndSliceTensors(t *testing.T) {
	a := tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	b := tensors.FromValue([][]float64{{10, 20, 30}, {40, 50, 60}})

	stacked := StackTensors(0, a, b)
	require.Equal(t, []int{2, 2, 3}, stacked.Shape().Dimensions)
	want := tensors.FromValue([][][]float64{
		{{1, 2, 3}, {4, 5, 6}},
		{{10, 20, 30}, {40, 50, 60}},
	})
	assert.True(t, stacked.Equal(want))

	// Slicing is the inverse of stacking.
	assert.True(t, SliceAxis(stacked, 0, 0).Equal(a))
	assert.True(t, SliceAxis(stacked, 0, 1).Equal(b))
}

func TestStackTensorsInnerAxis(t *testing.T) {
	// Stacking along an inner axis preserves the leading batch dimensions.
	a := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	b := tensors.FromValue([][]float32{{-1, -2}, {-3, -4}, {-5, -6}})
	stacked := StackTensors(1, a, b)
	require.Equal(t, []int{3, 2, 2}, stacked.Shape().Dimensions)
	want := tensors.FromValue([][][]float32{
		{{1, 2}, {-1, -2}},
		{{3, 4}, {-3, -4}},
		{{5, 6}, {-5, -6}},
	})
	assert.True(t, stacked.Equal(want))
	assert.True(t, SliceAxis(stacked, 1, 0).Equal(a))
	assert.True(t, SliceAxis(stacked, 1, 1).Equal(b))
}

func TestStackScalars(t *testing.T) {
	a := tensors.FromScalar(3.5)
	b := tensors.FromScalar(-1.5)
	stacked := StackTensors(0, a, b)
	require.Equal(t, []int{2}, stacked.Shape().Dimensions)
	assert.True(t, stacked.Equal(tensors.FromValue([]float64{3.5, -1.5})))
	assert.True(t, SliceAxis(stacked, 0, 1).Equal(b))
}

func TestStackTensorsPanics(t *testing.T) {
	a := tensors.FromValue([]float64{1, 2})
	b := tensors.FromValue([]float64{1, 2, 3})
	require.Panics(t, func() { StackTensors(0, a, b) })
	require.Panics(t, func() { StackTensors(2, a, a) })
	require.Panics(t, func() { StackTensors(0) })
	require.Panics(t, func() { SliceAxis(a, 1, 0) })
	require.Panics(t, func() { SliceAxis(a, 0, 2) })
}

func TestExpandAxis(t *testing.T) {
	a := tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	expanded := ExpandAxis(a, 0, 2)
	require.Equal(t, []int{2, 2, 3}, expanded.Shape().Dimensions)
	assert.True(t, SliceAxis(expanded, 0, 0).Equal(a))
	assert.True(t, SliceAxis(expanded, 0, 1).Equal(a))

	inner := ExpandAxis(a, 1, 3)
	require.Equal(t, []int{2, 3, 3}, inner.Shape().Dimensions)
	for ii := range 3 {
		assert.True(t, SliceAxis(inner, 1, ii).Equal(a))
	}
}

func TestReshape(t *testing.T) {
	a := tensors.FromValue([]float64{1, 2, 3, 4, 5, 6})
	reshaped := Reshape(a, 2, 3)
	assert.True(t, reshaped.Equal(tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})))
	require.Panics(t, func() { Reshape(a, 4, 2) })
}

func TestConcatTensors(t *testing.T) {
	a := tensors.FromValue([][]float64{{1, 2}, {3, 4}})
	b := tensors.FromValue([][]float64{{5, 6}})
	concatenated := ConcatTensors(0, a, b)
	want := tensors.FromValue([][]float64{{1, 2}, {3, 4}, {5, 6}})
	assert.True(t, concatenated.Equal(want))

	// Along the last axis.
	c := tensors.FromValue([][]float64{{10}, {20}})
	concatenated = ConcatTensors(1, a, c)
	want = tensors.FromValue([][]float64{{1, 2, 10}, {3, 4, 20}})
	assert.True(t, concatenated.Equal(want))

	require.Panics(t, func() { ConcatTensors(0, a, tensors.FromValue([]float64{1, 2})) })
}

func makeBundle(scale float64) *Bundle {
	return NewBundle().
		Set("kernel/raw_lengthscale", tensors.FromValue([][]float64{{scale, 2 * scale}})).
		Set("kernel/raw_outputscale", tensors.FromScalar(scale)).
		Set("mean/constant", tensors.FromValue([]float64{scale / 2}))
}

func TestBundleStackExtractRoundTrip(t *testing.T) {
	b0, b1 := makeBundle(1.0), makeBundle(-3.0)
	stacked, err := Stack(0, b0, b1)
	require.NoError(t, err)
	require.Equal(t, b0.Keys(), stacked.Keys())
	require.Equal(t, []int{2, 1, 2}, stacked.Get("kernel/raw_lengthscale").Shape().Dimensions)

	assert.True(t, ExtractOutput(stacked, 0, 0).Equal(b0))
	assert.True(t, ExtractOutput(stacked, 0, 1).Equal(b1))
}

func TestBundleStackErrors(t *testing.T) {
	b0, b1 := makeBundle(1.0), makeBundle(2.0)
	b1.Set("kernel/raw_outputscale", tensors.FromValue([]float64{2.0})) // Shape () vs (1).
	_, err := Stack(0, b0, b1)
	require.Error(t, err)
	assert.True(t, boterrors.IsUnsupported(err))
	assert.Contains(t, err.Error(), "unequal tensor shapes")

	missing := NewBundle().Set("mean/constant", tensors.FromValue([]float64{1}))
	_, err = Stack(0, b0, missing)
	require.Error(t, err)
	assert.True(t, boterrors.IsUnsupported(err))
}

func TestBundleCloneAndEqual(t *testing.T) {
	b := makeBundle(1.0)
	clone := b.Clone()
	require.True(t, b.Equal(clone))

	// Mutating the clone must not touch the original.
	tensors.MutableFlatData[float64](clone.Get("mean/constant"), func(flat []float64) {
		flat[0] = 99
	})
	assert.False(t, b.Equal(clone))
	assert.InDelta(t, 0.5, tensors.CopyFlatData[float64](b.Get("mean/constant"))[0], 0)
}

func TestBundleFloat32(t *testing.T) {
	a := NewBundle().Set("p", tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	b := NewBundle().Set("p", tensors.FromFlatDataAndDimensions([]float32{3, 4}, 2))
	stacked, err := Stack(0, a, b)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float32, stacked.Get("p").DType())
	assert.True(t, ExtractOutput(stacked, 0, 1).Equal(b))
}
