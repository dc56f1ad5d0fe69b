// Package means implements the mean modules of the GP model family.
package means

import (
	"slices"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Constant is a learned constant mean function.
type Constant struct {
	// Value has shape batchShape x 1 and holds the mean constant directly
	// (no raw transform, the constant is unconstrained).
	Value *tensors.Tensor
}

// NewConstant creates a constant mean initialized to zero.
func NewConstant(dtype dtypes.DType, batchShape ...int) *Constant {
	dims := append(slices.Clone(batchShape), 1)
	return &Constant{Value: tensors.FromShape(shapes.Make(dtype, dims...))}
}
