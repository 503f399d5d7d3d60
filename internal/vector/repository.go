// Package vector defines stored documents, the backend capability both
// storage implementations satisfy, and the Store that chooses between them.
package vector

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable marks a transport-level failure: the backend could not
	// be reached or did not answer in time.
	ErrUnavailable = errors.New("vector backend unavailable")
	// ErrRejected marks a request the backend received and refused.
	ErrRejected = errors.New("vector backend rejected request")
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the store's dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidLimit is returned for a search limit below 1.
	ErrInvalidLimit = errors.New("search limit must be at least 1")
)

// Document is a stored text with its embedding.
type Document struct {
	ID     int64
	Text   string
	Vector []float32
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	Document
	Score float32
}

// StorageType names the backend serving operations.
type StorageType string

const (
	StorageVectorDB StorageType = "vector-db"
	StorageInMemory StorageType = "in-memory"
)

// Status is computed on every call and never cached.
type Status struct {
	BackendReady  bool
	StorageType   StorageType
	DocumentCount int
}

// Backend is the capability set shared by the networked database and the
// in-process fallback.
type Backend interface {
	// Write stores a single document.
	Write(ctx context.Context, doc Document) error
	// Query returns up to k documents most similar to vec, best first.
	Query(ctx context.Context, vec []float32, k int) ([]SearchResult, error)
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
	// Reachable reports whether the backend answers right now.
	Reachable(ctx context.Context) bool
	// Close releases resources.
	Close() error
}
