// Package memory is the in-process fallback backend: an append-only slice
// searched by brute-force cosine similarity.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/efebarandurmaz/ragdemo/internal/vector"
)

// Backend implements vector.Backend in process memory.
type Backend struct {
	mu   sync.RWMutex
	dim  int
	docs []vector.Document
}

// New creates an empty backend that accepts vectors of length dim.
func New(dim int) *Backend {
	return &Backend{dim: dim}
}

func (b *Backend) Write(_ context.Context, doc vector.Document) error {
	if len(doc.Vector) != b.dim {
		return fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(doc.Vector), b.dim)
	}
	doc.Vector = slices.Clone(doc.Vector)

	b.mu.Lock()
	b.docs = append(b.docs, doc)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Query(_ context.Context, vec []float32, k int) ([]vector.SearchResult, error) {
	if k < 1 {
		return nil, vector.ErrInvalidLimit
	}

	b.mu.RLock()
	results := make([]vector.SearchResult, len(b.docs))
	for i, d := range b.docs {
		results[i] = vector.SearchResult{Document: d, Score: vector.Cosine(vec, d.Vector)}
	}
	b.mu.RUnlock()

	return vector.Rank(results, k), nil
}

func (b *Backend) Count(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs), nil
}

// Reachable is always true.
func (b *Backend) Reachable(context.Context) bool { return true }

func (b *Backend) Close() error { return nil }

var _ vector.Backend = (*Backend)(nil)
