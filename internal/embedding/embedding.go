// Package embedding maps text to fixed-dimension vectors.
//
// The Service here is a deterministic stand-in: a text's vector is drawn
// from a PRNG seeded by a hash of the text. A model-backed embedder can
// replace it behind the same Embed/Dimension methods.
package embedding

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// DefaultDimension is the vector length used when none is configured.
const DefaultDimension = 128

// ErrInvalidDimension is returned by New for a non-positive dimension.
var ErrInvalidDimension = errors.New("embedding dimension must be positive")

// Service produces deterministic embeddings.
type Service struct {
	dim int
}

// New creates a Service producing vectors of length dim.
func New(dim int) (*Service, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, dim)
	}
	return &Service{dim: dim}, nil
}

// Dimension returns the vector length.
func (s *Service) Dimension() int {
	return s.dim
}

// Embed converts text to a vector. Identical text always yields an
// identical vector for the same dimension. Components lie in [0, 1).
func (s *Service) Embed(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	vec := make([]float32, s.dim)
	for i := range vec {
		vec[i] = r.Float32()
	}
	return vec
}
