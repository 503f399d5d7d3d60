package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/efebarandurmaz/ragdemo/internal/embedding"
	"github.com/efebarandurmaz/ragdemo/internal/observability"
	"github.com/efebarandurmaz/ragdemo/internal/vector"
	"github.com/efebarandurmaz/ragdemo/internal/vector/memory"
)

func newWorkflow(t *testing.T, opts Options) *Workflow {
	t.Helper()
	emb, err := embedding.New(embedding.DefaultDimension)
	if err != nil {
		t.Fatalf("embedding.New: %v", err)
	}
	store, err := vector.NewStore(nil, memory.New(emb.Dimension()), emb.Dimension())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	w, err := New(emb, store, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestNew_DimensionMismatch(t *testing.T) {
	emb, _ := embedding.New(8)
	store, _ := vector.NewStore(nil, memory.New(16), 16)
	_, err := New(emb, store, Options{})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	w := newWorkflow(t, Options{})
	if w.limit != DefaultSearchLimit || w.preview != DefaultPreviewLength {
		t.Fatalf("unexpected defaults: limit %d, preview %d", w.limit, w.preview)
	}
	if !w.Ready() {
		t.Fatal("expected workflow to be ready")
	}
}

func TestAsk_LangGraphScenario(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t, Options{})

	const doc = "LangGraph is awesome for workflows"
	added, err := w.Add(ctx, doc)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID != 0 || added.Status != StatusAdded {
		t.Fatalf("unexpected add result: %+v", added)
	}

	ans, err := w.Ask(ctx, "what is langgraph?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.ContextUsed) != 1 || ans.ContextUsed[0] != doc {
		t.Fatalf("unexpected context: %v", ans.ContextUsed)
	}
	if !strings.Contains(ans.Answer, doc) {
		t.Fatalf("answer should quote the document, got %q", ans.Answer)
	}
	if ans.Question != "what is langgraph?" {
		t.Fatalf("unexpected question echo: %q", ans.Question)
	}
}

func TestAsk_EmptyStore(t *testing.T) {
	w := newWorkflow(t, Options{})
	ans, err := w.Ask(context.Background(), "anything?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.ContextUsed == nil || len(ans.ContextUsed) != 0 {
		t.Fatalf("expected empty context, got %v", ans.ContextUsed)
	}
	if ans.Answer != NoResultsAnswer {
		t.Fatalf("unexpected answer: %q", ans.Answer)
	}
	if ans.LatencySec < 0 {
		t.Fatalf("latency must be non-negative, got %v", ans.LatencySec)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	w := newWorkflow(t, Options{})
	if _, err := w.Ask(context.Background(), ""); err != nil {
		t.Fatalf("empty question should not fail: %v", err)
	}
}

func TestAsk_SearchLimit(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t, Options{SearchLimit: 3})
	for i := 0; i < 5; i++ {
		if _, err := w.Add(ctx, fmt.Sprintf("document number %d", i)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	ans, err := w.Ask(ctx, "document")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.ContextUsed) != 3 {
		t.Fatalf("expected 3 context entries, got %d", len(ans.ContextUsed))
	}
}

func TestAsk_PreviewTruncation(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t, Options{PreviewLength: 10})
	_, _ = w.Add(ctx, "ünïcode text that is long")

	ans, _ := w.Ask(ctx, "q")
	want := "I found this: 'ünïcode te...'"
	if ans.Answer != want {
		t.Fatalf("expected %q, got %q", want, ans.Answer)
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		text string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"abcdefghijk", 10, "abcdefghij..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := preview(tt.text, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.text, tt.n, got, tt.want)
		}
	}
}

// failingStore rejects every operation.
type failingStore struct{ dim int }

func (f failingStore) Add(context.Context, string, []float32) (int64, error) {
	return 0, vector.ErrRejected
}

func (f failingStore) Search(context.Context, []float32, int) ([]vector.SearchResult, error) {
	return nil, vector.ErrRejected
}

func (f failingStore) Status(context.Context) (vector.Status, error) {
	return vector.Status{}, vector.ErrRejected
}

func (f failingStore) Dimension() int { return f.dim }

func TestAsk_StoreErrorEscapes(t *testing.T) {
	emb, _ := embedding.New(4)
	w, err := New(emb, failingStore{dim: 4}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Ask(context.Background(), "q"); !errors.Is(err, vector.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if _, err := w.Add(context.Background(), "t"); !errors.Is(err, vector.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestExecute_StateOrder(t *testing.T) {
	w := newWorkflow(t, Options{})
	r := &run{question: "q", state: Embedded}
	if err := w.execute(context.Background(), r); err == nil {
		t.Fatal("expected error when starting mid-pipeline")
	}

	r = &run{question: "q", state: Received}
	if err := w.execute(context.Background(), r); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.state != Completed {
		t.Fatalf("expected completed, got %s", r.state)
	}
}

func TestAsk_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	m := observability.NewRAGMetrics()
	w := newWorkflow(t, Options{Metrics: m})
	_, _ = w.Add(ctx, "doc")
	_, _ = w.Ask(ctx, "q")
	if m.AsksTotal.Value() != 1 || m.AddsTotal.Value() != 1 {
		t.Fatalf("unexpected counters: asks %v, adds %v", m.AsksTotal.Value(), m.AddsTotal.Value())
	}
	if m.AskDuration.Count() != 1 {
		t.Fatalf("expected 1 latency observation, got %d", m.AskDuration.Count())
	}
}
