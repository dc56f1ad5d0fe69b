// Package priors implements hyperparameter priors for the GP model family.
//
// Only the Gamma prior is provided: it is the default prior placed on noise,
// lengthscale and outputscale hyperparameters, following the usual
// concentration/rate parameterization. The distribution math is delegated to
// gonum's distuv.
package priors

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Gamma is a Gamma(concentration, rate) prior over a positive scalar
// hyperparameter.
//
// Two priors are interchangeable for batching purposes only if their
// hyperparameter values match exactly, see Equal.
type Gamma struct {
	dist distuv.Gamma
}

// NewGamma creates a Gamma prior with the given concentration (shape) and
// rate parameters. Both must be positive.
func NewGamma(concentration, rate float64) *Gamma {
	return &Gamma{dist: distuv.Gamma{Alpha: concentration, Beta: rate}}
}

// Concentration (shape) parameter of the prior.
func (p *Gamma) Concentration() float64 { return p.dist.Alpha }

// Rate parameter of the prior.
func (p *Gamma) Rate() float64 { return p.dist.Beta }

// LogProb returns the log of the prior density at x.
func (p *Gamma) LogProb(x float64) float64 { return p.dist.LogProb(x) }

// Rand draws one value from the prior using the given source.
func (p *Gamma) Rand(src rand.Source) float64 {
	dist := p.dist
	dist.Src = src
	return dist.Rand()
}

// Equal reports whether both priors have exactly the same hyperparameter
// values. A nil prior is only equal to another nil prior.
func (p *Gamma) Equal(other *Gamma) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.dist.Alpha == other.dist.Alpha && p.dist.Beta == other.dist.Beta
}

// String implements fmt.Stringer.
func (p *Gamma) String() string {
	return fmt.Sprintf("Gamma(concentration=%g, rate=%g)", p.dist.Alpha, p.dist.Beta)
}

// Default priors for the SingleTaskGP family hyperparameters.
func DefaultNoisePrior() *Gamma       { return NewGamma(1.1, 0.05) }
func DefaultLengthscalePrior() *Gamma { return NewGamma(3.0, 6.0) }
func DefaultOutputscalePrior() *Gamma { return NewGamma(2.0, 0.15) }
