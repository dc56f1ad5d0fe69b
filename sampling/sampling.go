// Package sampling implements the Monte-Carlo samplers that map a posterior
// to a tensor of joint samples, as used by fantasization.
package sampling

import (
	"github.com/anstkosh/botorch/posteriors"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// Sampler maps a posterior to a tensor of joint samples, shaped
// numSamples x batchShape x q x o.
type Sampler interface {
	Sample(p posteriors.Posterior) (*tensors.Tensor, error)
}

// IIDNormal draws a fixed number of independent joint samples from the
// posterior. It keeps its own random source, so two samplers created with the
// same seed produce the same draws.
type IIDNormal struct {
	numSamples int
	src        rand.Source
}

var _ Sampler = (*IIDNormal)(nil)

// NewIIDNormal creates an IIDNormal sampler drawing numSamples samples,
// seeded deterministically.
func NewIIDNormal(numSamples int, seed uint64) *IIDNormal {
	return &IIDNormal{numSamples: numSamples, src: rand.NewSource(seed)}
}

// NumSamples the sampler draws per call.
func (s *IIDNormal) NumSamples() int { return s.numSamples }

// Sample implements Sampler.
func (s *IIDNormal) Sample(p posteriors.Posterior) (*tensors.Tensor, error) {
	samples, err := p.Sample(s.numSamples, s.src)
	if err != nil {
		return nil, errors.WithMessage(err, "IIDNormal sampler")
	}
	return samples, nil
}
