package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/efebarandurmaz/ragdemo/internal/observability"
	"github.com/efebarandurmaz/ragdemo/internal/vector"
)

// State is a step of the ask pipeline.
type State int

const (
	Received State = iota
	Embedded
	Retrieved
	Synthesized
	Completed
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Embedded:
		return "embedded"
	case Retrieved:
		return "retrieved"
	case Synthesized:
		return "synthesized"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// run carries one question through the pipeline.
type run struct {
	question string
	started  time.Time

	vector  []float32
	results []vector.SearchResult
	context []string
	answer  string
	elapsed time.Duration

	state State
}

// stage moves a run from one state to the next.
type stage struct {
	name string
	from State
	to   State
	fn   func(w *Workflow, ctx context.Context, r *run) error
}

func pipeline() []stage {
	return []stage{
		{name: "embed", from: Received, to: Embedded, fn: (*Workflow).embed},
		{name: "retrieve", from: Embedded, to: Retrieved, fn: (*Workflow).retrieve},
		{name: "synthesize", from: Retrieved, to: Synthesized, fn: (*Workflow).synthesize},
		{name: "measure", from: Synthesized, to: Completed, fn: (*Workflow).measure},
	}
}

// execute runs every stage in order. A stage only runs from its source state.
func (w *Workflow) execute(ctx context.Context, r *run) error {
	for _, st := range w.stages {
		if r.state != st.from {
			return fmt.Errorf("stage %s: run is %s, want %s", st.name, r.state, st.from)
		}
		sctx, span := observability.StartStageSpan(ctx, st.name)
		err := st.fn(w, sctx, r)
		if err != nil {
			observability.RecordError(span, err)
			span.End()
			return fmt.Errorf("stage %s: %w", st.name, err)
		}
		span.End()
		r.state = st.to
	}
	return nil
}

func (w *Workflow) embed(_ context.Context, r *run) error {
	r.vector = w.embedder.Embed(r.question)
	return nil
}

func (w *Workflow) retrieve(ctx context.Context, r *run) error {
	results, err := w.store.Search(ctx, r.vector, w.limit)
	if err != nil {
		return err
	}
	r.results = results
	r.context = make([]string, 0, len(results))
	for _, res := range results {
		r.context = append(r.context, res.Text)
	}
	return nil
}

func (w *Workflow) synthesize(_ context.Context, r *run) error {
	if len(r.context) == 0 {
		r.answer = NoResultsAnswer
		return nil
	}
	r.answer = fmt.Sprintf("I found this: '%s'", preview(r.context[0], w.preview))
	return nil
}

func (w *Workflow) measure(_ context.Context, r *run) error {
	r.elapsed = time.Since(r.started)
	return nil
}

// preview returns the first n characters of text, marking a cut with "...".
func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
