package models

import (
	"github.com/anstkosh/botorch/posteriors"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// ModelList presents a sequence of independent models as one multi-output
// model. Output j of the list is output j-minus-offset of the member that
// covers position j, with members contributing their outputs in order.
type ModelList struct {
	unimplementedConditioner
	members []Model
}

var _ Model = (*ModelList)(nil)

// NewModelList creates a ModelList over the given members.
func NewModelList(members ...Model) (*ModelList, error) {
	if len(members) == 0 {
		return nil, errors.New("a ModelList requires at least one member")
	}
	for ii, member := range members {
		if member == nil {
			return nil, errors.Errorf("member %d of the ModelList is nil", ii)
		}
	}
	return &ModelList{members: append([]Model(nil), members...)}, nil
}

// Models returns the member models in order.
func (l *ModelList) Models() []Model { return append([]Model(nil), l.members...) }

// NumOutputs implements Model: the sum of the members' output counts.
func (l *ModelList) NumOutputs() int {
	total := 0
	for _, member := range l.members {
		total += member.NumOutputs()
	}
	return total
}

// memberFor returns the index of the member covering global output oi and
// that member's first global output position.
func (l *ModelList) memberFor(oi int) (memberIdx, offset int) {
	for ii, member := range l.members {
		width := member.NumOutputs()
		if oi < offset+width {
			return ii, offset
		}
		offset += width
	}
	return -1, offset
}

// Posterior implements Model. Global output indices are mapped onto the
// members; consecutive requested indices covered by the same member are
// fetched with a single call, and the per-member posteriors are aggregated as
// independent, preserving the requested output order.
func (l *ModelList) Posterior(X *tensors.Tensor, outputIndices []int, observationNoise bool) (posteriors.Posterior, error) {
	total := l.NumOutputs()
	sel := outputIndices
	if sel == nil {
		sel = make([]int, total)
		for ii := range sel {
			sel[ii] = ii
		}
	}
	if len(sel) == 0 {
		return nil, errors.New("outputIndices must not be empty")
	}
	for _, oi := range sel {
		if oi < 0 || oi >= total {
			return nil, errors.Errorf("output index %d out of range for a ModelList with %d outputs", oi, total)
		}
	}

	var parts []posteriors.Posterior
	for ii := 0; ii < len(sel); {
		memberIdx, offset := l.memberFor(sel[ii])
		member := l.members[memberIdx]
		local := []int{sel[ii] - offset}
		jj := ii + 1
		for jj < len(sel) {
			if otherIdx, _ := l.memberFor(sel[jj]); otherIdx != memberIdx {
				break
			}
			local = append(local, sel[jj]-offset)
			jj++
		}
		if identityIndices(local, member.NumOutputs()) {
			local = nil // The member's full output set, in order.
		}
		part, err := member.Posterior(X, local, observationNoise)
		if err != nil {
			return nil, errors.WithMessagef(err, "posterior of ModelList member %d", memberIdx)
		}
		parts = append(parts, part)
		ii = jj
	}
	return posteriors.NewIndependent(parts...)
}

func identityIndices(indices []int, width int) bool {
	if len(indices) != width {
		return false
	}
	for ii, oi := range indices {
		if oi != ii {
			return false
		}
	}
	return true
}
