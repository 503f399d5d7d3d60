// Package workflow answers questions by retrieval: embed the question,
// search the document store, and synthesize an answer from the top hit.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/efebarandurmaz/ragdemo/internal/observability"
	"github.com/efebarandurmaz/ragdemo/internal/vector"
)

const (
	// DefaultSearchLimit is the number of documents retrieved per question.
	DefaultSearchLimit = 2
	// DefaultPreviewLength is the number of characters of the top document
	// quoted in an answer.
	DefaultPreviewLength = 100

	// NoResultsAnswer is returned when retrieval finds nothing.
	NoResultsAnswer = "No relevant documents found."

	// StatusAdded is reported for a stored document.
	StatusAdded = "added"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
}

// DocumentStore is the storage the workflow reads from and writes to.
type DocumentStore interface {
	Add(ctx context.Context, text string, vec []float32) (int64, error)
	Search(ctx context.Context, vec []float32, limit int) ([]vector.SearchResult, error)
	Status(ctx context.Context) (vector.Status, error)
	Dimension() int
}

// Options tunes a Workflow. Zero values select the defaults.
type Options struct {
	SearchLimit   int
	PreviewLength int
	Metrics       *observability.RAGMetrics
	Logger        *slog.Logger
}

// Answer is the result of Ask.
type Answer struct {
	Question    string   `json:"question"`
	Answer      string   `json:"answer"`
	ContextUsed []string `json:"context_used"`
	LatencySec  float64  `json:"latency_sec"`
}

// AddResult is the result of Add.
type AddResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Workflow wires an Embedder to a DocumentStore.
type Workflow struct {
	embedder Embedder
	store    DocumentStore
	stages   []stage
	limit    int
	preview  int
	metrics  *observability.RAGMetrics
	logger   *slog.Logger
}

// New builds the workflow. The embedder and store must agree on the vector
// dimension.
func New(embedder Embedder, store DocumentStore, opts Options) (*Workflow, error) {
	if embedder == nil {
		return nil, errors.New("workflow: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("workflow: store must not be nil")
	}
	if embedder.Dimension() != store.Dimension() {
		return nil, fmt.Errorf("workflow: embedding dimension %d does not match store dimension %d: %w",
			embedder.Dimension(), store.Dimension(), vector.ErrDimensionMismatch)
	}
	if opts.SearchLimit < 0 || opts.PreviewLength < 0 {
		return nil, fmt.Errorf("workflow: negative option (limit %d, preview %d)", opts.SearchLimit, opts.PreviewLength)
	}
	if opts.SearchLimit == 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	if opts.PreviewLength == 0 {
		opts.PreviewLength = DefaultPreviewLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Workflow{
		embedder: embedder,
		store:    store,
		stages:   pipeline(),
		limit:    opts.SearchLimit,
		preview:  opts.PreviewLength,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "workflow"),
	}, nil
}

// Ready reports whether the pipeline is constructed.
func (w *Workflow) Ready() bool {
	return w != nil && len(w.stages) > 0
}

// Ask runs the retrieval pipeline for question. An empty store or an empty
// question still produce an answer.
func (w *Workflow) Ask(ctx context.Context, question string) (*Answer, error) {
	ctx, span := observability.StartWorkflowSpan(ctx, "ask")
	defer span.End()

	r := &run{question: question, state: Received, started: time.Now()}
	if err := w.execute(ctx, r); err != nil {
		observability.RecordError(span, err)
		w.logger.Error("ask failed", "state", r.state.String(), "error", err)
		return nil, err
	}

	w.metrics.RecordAsk(r.elapsed)
	w.logger.Debug("ask completed", "results", len(r.context), "latency", r.elapsed)
	return &Answer{
		Question:    question,
		Answer:      r.answer,
		ContextUsed: r.context,
		LatencySec:  roundMillis(r.elapsed),
	}, nil
}

// Add embeds text and stores it.
func (w *Workflow) Add(ctx context.Context, text string) (*AddResult, error) {
	ctx, span := observability.StartWorkflowSpan(ctx, "add")
	defer span.End()

	id, err := w.store.Add(ctx, text, w.embedder.Embed(text))
	if err != nil {
		observability.RecordError(span, err)
		w.logger.Error("add failed", "error", err)
		return nil, fmt.Errorf("add document: %w", err)
	}
	w.metrics.RecordAdd()
	w.logger.Debug("document added", "id", id)
	return &AddResult{ID: id, Status: StatusAdded}, nil
}

// Status reports the store status.
func (w *Workflow) Status(ctx context.Context) (vector.Status, error) {
	return w.store.Status(ctx)
}

func roundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
