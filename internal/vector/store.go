package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/efebarandurmaz/ragdemo/internal/observability"
)

// DefaultTimeout bounds each call to the primary backend.
const DefaultTimeout = 2 * time.Second

// Store owns every stored document. It tries the primary (networked)
// backend on each operation and serves the same operation from the
// fallback when the primary is unavailable. Documents written while
// degraded stay in the fallback.
type Store struct {
	primary  Backend
	fallback Backend
	dim      int
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.RAGMetrics

	nextID   atomic.Int64
	degraded atomic.Bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTimeout sets the per-call timeout for the primary backend.
func WithTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// WithLogger sets the logger used for degradation events.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records fallback and rejection counts.
func WithMetrics(m *observability.RAGMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store over the given backends. primary may be nil, in
// which case every operation uses fallback.
func NewStore(primary, fallback Backend, dim int, opts ...StoreOption) (*Store, error) {
	if fallback == nil {
		return nil, errors.New("vector store: fallback backend is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vector store: dimension must be positive, got %d", dim)
	}
	s := &Store{
		primary:  primary,
		fallback: fallback,
		dim:      dim,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s, nil
}

// Dimension returns the vector length every document must have.
func (s *Store) Dimension() int {
	return s.dim
}

// Add stores text with its vector and returns the assigned id. Ids start at
// 0 and increase by one per stored document.
func (s *Store) Add(ctx context.Context, text string, vec []float32) (int64, error) {
	if err := s.checkDim(vec); err != nil {
		return 0, err
	}

	ctx, span := observability.StartStoreSpan(ctx, "add")
	defer span.End()

	id := s.nextID.Add(1) - 1
	doc := Document{ID: id, Text: text, Vector: vec}

	storage, err := s.route(ctx, "add", func(ctx context.Context, b Backend) error {
		return b.Write(ctx, doc)
	})
	observability.RecordBackend(span, string(storage), storage == StorageInMemory && s.primary != nil)
	if err != nil {
		// Hand the id back unless a concurrent Add already took the next one.
		s.nextID.CompareAndSwap(id+1, id)
		observability.RecordError(span, err)
		return 0, err
	}
	return id, nil
}

// Search returns at most limit documents ordered by descending cosine
// similarity to vec, ties broken by ascending id. An empty store yields an
// empty slice.
func (s *Store) Search(ctx context.Context, vec []float32, limit int) ([]SearchResult, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	if err := s.checkDim(vec); err != nil {
		return nil, err
	}

	ctx, span := observability.StartStoreSpan(ctx, "search")
	defer span.End()

	var results []SearchResult
	storage, err := s.route(ctx, "search", func(ctx context.Context, b Backend) error {
		var err error
		results, err = b.Query(ctx, vec, limit)
		return err
	})
	observability.RecordBackend(span, string(storage), storage == StorageInMemory && s.primary != nil)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if results == nil {
		results = []SearchResult{}
	}
	results = Rank(results, limit)
	observability.RecordResultCount(span, len(results))
	return results, nil
}

// Status checks the primary and reports the backend that would serve the
// next operation.
func (s *Store) Status(ctx context.Context) (Status, error) {
	ctx, span := observability.StartStoreSpan(ctx, "status")
	defer span.End()

	st := Status{StorageType: StorageInMemory}
	if s.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		ready := s.primary.Reachable(pctx)
		var n int
		var err error
		if ready {
			n, err = s.primary.Count(pctx)
		}
		cancel()

		if cerr := ctx.Err(); cerr != nil {
			observability.RecordError(span, cerr)
			return Status{}, fmt.Errorf("status: %w", cerr)
		}
		switch {
		case ready && err == nil:
			s.markHealthy()
			st = Status{BackendReady: true, StorageType: StorageVectorDB, DocumentCount: n}
		case ready && !errors.Is(err, ErrUnavailable):
			observability.RecordError(span, err)
			return Status{}, err
		default:
			if err == nil {
				err = errors.New("health check failed")
			}
			s.markDegraded("status", err)
		}
	}

	if st.StorageType == StorageInMemory {
		n, err := s.fallback.Count(ctx)
		if err != nil {
			observability.RecordError(span, err)
			return Status{}, err
		}
		st.DocumentCount = n
	}

	observability.RecordBackend(span, string(st.StorageType), st.StorageType == StorageInMemory && s.primary != nil)
	s.metrics.RecordDocumentCount(st.DocumentCount)
	return st, nil
}

// Close releases both backends.
func (s *Store) Close() error {
	var errs []error
	if s.primary != nil {
		errs = append(errs, s.primary.Close())
	}
	errs = append(errs, s.fallback.Close())
	return errors.Join(errs...)
}

// route runs op against the primary and, if the primary is unavailable,
// against the fallback. A rejection from the primary is returned as is.
func (s *Store) route(ctx context.Context, name string, op func(context.Context, Backend) error) (StorageType, error) {
	if s.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := op(pctx, s.primary)
		cancel()

		if err == nil {
			s.markHealthy()
			return StorageVectorDB, nil
		}
		// The caller gave up; the primary was not at fault.
		if cerr := ctx.Err(); cerr != nil {
			return StorageVectorDB, fmt.Errorf("%s: %w", name, cerr)
		}
		if !errors.Is(err, ErrUnavailable) {
			s.metrics.RecordRejected()
			return StorageVectorDB, fmt.Errorf("%s: %w", name, err)
		}
		s.markDegraded(name, err)
		s.metrics.RecordFallback()
	}

	if err := op(ctx, s.fallback); err != nil {
		return StorageInMemory, fmt.Errorf("%s (fallback): %w", name, err)
	}
	return StorageInMemory, nil
}

func (s *Store) markDegraded(op string, cause error) {
	if !s.degraded.Swap(true) {
		s.logger.Warn("Vector database unavailable, serving from in-memory fallback", "op", op, "error", cause)
	}
}

func (s *Store) markHealthy() {
	if s.degraded.Swap(false) {
		s.logger.Info("Vector database reachable again")
	}
}

func (s *Store) checkDim(vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	return nil
}
