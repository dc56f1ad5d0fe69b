package models

import (
	"reflect"
	"slices"

	"github.com/anstkosh/botorch/boterrors"
	"github.com/anstkosh/botorch/params"
	"github.com/gomlx/gomlx/types/tensors"
	"k8s.io/klog/v2"
)

// familyGP marks the single-task GP family handled by the converters below.
type familyGP interface {
	Model
	core() *gpModel
}

func (m *SingleTaskGP) core() *gpModel { return &m.gpModel }
func (m *FixedNoiseGP) core() *gpModel { return &m.gpModel }

func wrapCore(core *gpModel) Model {
	if core.variant == variantFixedNoise {
		return &FixedNoiseGP{gpModel: *core}
	}
	return &SingleTaskGP{gpModel: *core}
}

// ModelListToBatched converts a list of structurally identical single-output
// GP models into one batched multi-output model, with the members' parameters
// stacked along a new output axis in list order. The members must be of the
// same concrete type, share their training inputs and priors, and have
// parameters of matching shapes; violations are reported as Unsupported.
// Heteroskedastic models and custom likelihoods are not handled and are
// reported as Unimplemented.
//
// The conversion is lossless: BatchedToModelList recovers models with
// bitwise-identical training data and parameters.
func ModelListToBatched(list *ModelList) (Model, error) {
	if list == nil || len(list.members) == 0 {
		return nil, boterrors.Unsupportedf("cannot batch an empty model list")
	}
	members := list.members
	for _, member := range members[1:] {
		if reflect.TypeOf(member) != reflect.TypeOf(members[0]) {
			return nil, boterrors.Unsupportedf(
				"all models in the list must be of the same type, got %T and %T", members[0], member)
		}
	}
	cores := make([]*gpModel, len(members))
	for ii, member := range members {
		fam, ok := member.(familyGP)
		if !ok {
			return nil, boterrors.Unsupportedf("%T cannot be batched", member)
		}
		cores[ii] = fam.core()
	}

	first := cores[0]
	if first.variant == variantHeteroskedastic {
		return nil, boterrors.Unimplementedf("batching HeteroskedasticSingleTaskGP models is not implemented")
	}
	for ii, core := range cores {
		if core.customLikelihood {
			return nil, boterrors.Unimplementedf("models with custom likelihoods cannot be batched")
		}
		if core.numOutputs != 1 || core.hasOutputAxis {
			return nil, boterrors.Unsupportedf(
				"all models in the list must be plain single-output models, member %d is not", ii)
		}
		if !slices.Equal(core.batchShape, first.batchShape) {
			return nil, boterrors.Unsupportedf(
				"all models in the list must share the batch shape %v, member %d has %v",
				first.batchShape, ii, core.batchShape)
		}
		if !core.trainX.Equal(first.trainX) {
			return nil, boterrors.Unsupportedf("training inputs of all models in the list must agree")
		}
		if !core.kernel.OutputscalePrior.Equal(first.kernel.OutputscalePrior) ||
			!core.kernel.Base.LengthscalePrior.Equal(first.kernel.Base.LengthscalePrior) {
			return nil, boterrors.Unsupportedf("kernel priors of all models in the list must agree")
		}
		if core.likelihood != nil && !core.likelihood.NoisePrior.Equal(first.likelihood.NoisePrior) {
			return nil, boterrors.Unsupportedf("noise priors of all models in the list must agree")
		}
	}

	axis := len(first.batchShape)
	bundles := make([]*params.Bundle, len(cores))
	ys := make([]*tensors.Tensor, len(cores))
	var noises []*tensors.Tensor
	for ii, core := range cores {
		bundles[ii] = core.StateBundle()
		ys[ii] = core.trainY
		if core.noise != nil {
			noises = append(noises, core.noise)
		}
	}
	stacked, err := params.Stack(axis, bundles...)
	if err != nil {
		return nil, err
	}

	trainX := params.ExpandAxis(first.trainX, axis, len(cores))
	trainY := params.StackTensors(axis, ys...)
	var noise *tensors.Tensor
	if len(noises) > 0 {
		noise = params.StackTensors(axis, noises...)
	}
	batched := newGPFromParts(first.variant, trainX, trainY, noise,
		first.batchShape, len(cores), true, false)
	batched.copyPriorsFrom(first)
	if err := batched.loadState(stacked); err != nil {
		return nil, err
	}
	klog.V(2).Infof("batched %d %s models into one %d-output model", len(cores), first.variant, len(cores))
	return wrapCore(batched), nil
}

// BatchedToModelList converts a multi-output GP model into a ModelList of
// single-output models, one per output, in output order. Each member receives
// that output's slice of the training data and parameters. Model types the
// conversion does not handle are reported as Unimplemented.
func BatchedToModelList(m Model) (*ModelList, error) {
	fam, ok := m.(familyGP)
	if !ok {
		return nil, boterrors.Unimplementedf("cannot split %T into a model list", m)
	}
	core := fam.core()
	if core.variant == variantHeteroskedastic {
		return nil, boterrors.Unimplementedf("splitting HeteroskedasticSingleTaskGP models is not implemented")
	}
	if core.customLikelihood {
		return nil, boterrors.Unimplementedf("models with custom likelihoods cannot be split")
	}
	if !core.hasOutputAxis {
		// Already a plain single-output model; the list holds a copy of it.
		return NewModelList(wrapCore(core.cloneCore()))
	}

	axis := len(core.batchShape)
	bundle := core.StateBundle()
	members := make([]Model, core.numOutputs)
	for oi := range core.numOutputs {
		x := params.SliceAxis(core.trainX, axis, oi)
		y := params.SliceAxis(core.trainY, axis, oi)
		var noise *tensors.Tensor
		if core.noise != nil {
			noise = params.SliceAxis(core.noise, axis, oi)
		}
		member := newGPFromParts(core.variant, x, y, noise,
			core.batchShape, 1, false, false)
		member.copyPriorsFrom(core)
		if err := member.loadState(params.ExtractOutput(bundle, axis, oi)); err != nil {
			return nil, err
		}
		members[oi] = wrapCore(member)
	}
	klog.V(2).Infof("split a %d-output %s into a list of single-output models", core.numOutputs, core.variant)
	return NewModelList(members...)
}
