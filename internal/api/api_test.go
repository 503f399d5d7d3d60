package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efebarandurmaz/ragdemo/internal/embedding"
	"github.com/efebarandurmaz/ragdemo/internal/observability"
	"github.com/efebarandurmaz/ragdemo/internal/vector"
	"github.com/efebarandurmaz/ragdemo/internal/vector/memory"
	"github.com/efebarandurmaz/ragdemo/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	emb, err := embedding.New(embedding.DefaultDimension)
	if err != nil {
		t.Fatalf("embedding.New: %v", err)
	}
	store, err := vector.NewStore(nil, memory.New(emb.Dimension()), emb.Dimension())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	wf, err := workflow.New(emb, store, workflow.Options{})
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	m := observability.NewRAGMetrics()
	return NewServer(nil, wf, map[string]http.Handler{"/metrics": m.Handler()})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestStatus_AfterStartup(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DocumentCount != 0 {
		t.Fatalf("expected 0 documents, got %d", resp.DocumentCount)
	}
	if resp.QdrantReady || resp.StorageType != "in-memory" || !resp.GraphReady {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestAddAndAsk(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/add", `{"text":"LangGraph is awesome for workflows"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var added map[string]any
	_ = json.NewDecoder(w.Body).Decode(&added)
	if added["id"] != float64(0) || added["status"] != "added" {
		t.Fatalf("unexpected add response: %v", added)
	}

	w = do(t, s, http.MethodPost, "/ask", `{"question":"what is langgraph?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ask: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ans workflow.Answer
	if err := json.NewDecoder(w.Body).Decode(&ans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ans.ContextUsed) != 1 || ans.ContextUsed[0] != "LangGraph is awesome for workflows" {
		t.Fatalf("unexpected context: %v", ans.ContextUsed)
	}
	if !strings.Contains(ans.Answer, "LangGraph") {
		t.Fatalf("unexpected answer: %q", ans.Answer)
	}

	w = do(t, s, http.MethodGet, "/status", "")
	var st StatusResponse
	_ = json.NewDecoder(w.Body).Decode(&st)
	if st.DocumentCount != 1 {
		t.Fatalf("expected 1 document, got %d", st.DocumentCount)
	}
}

func TestAsk_EmptyContextSerializesAsArray(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/ask", `{"question":"hello"}`)
	if !strings.Contains(w.Body.String(), `"context_used":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"malformed json", "/add", `{"text":`, http.StatusBadRequest},
		{"empty body", "/ask", ``, http.StatusBadRequest},
		{"missing text", "/add", `{}`, http.StatusUnprocessableEntity},
		{"empty text", "/add", `{"text":""}`, http.StatusUnprocessableEntity},
		{"empty question", "/ask", `{"question":""}`, http.StatusUnprocessableEntity},
		{"wrong type", "/add", `{"text":42}`, http.StatusUnprocessableEntity},
		{"missing question", "/ask", `{"q":"x"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Detail == "" {
				t.Fatalf("expected detail message, got %q (%v)", resp.Detail, err)
			}
		})
	}
}

func TestWhitespaceAccepted(t *testing.T) {
	s := newTestServer(t)
	if w := do(t, s, http.MethodPost, "/add", `{"text":"   "}`); w.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodPost, "/ask", `{"question":" "}`); w.Code != http.StatusOK {
		t.Fatalf("ask: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/add"},
		{http.MethodGet, "/ask"},
		{http.MethodPost, "/status"},
	} {
		if w := do(t, s, tc.method, tc.path, ""); w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestRoot(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "running" {
		t.Fatalf("unexpected root response: %v", resp)
	}

	if w := do(t, s, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

type brokenService struct{}

func (brokenService) Ask(context.Context, string) (*workflow.Answer, error) {
	return nil, vector.ErrRejected
}

func (brokenService) Add(context.Context, string) (*workflow.AddResult, error) {
	return nil, vector.ErrRejected
}

func (brokenService) Status(context.Context) (vector.Status, error) {
	return vector.Status{}, vector.ErrRejected
}

func (brokenService) Ready() bool { return false }

func TestCoreErrors(t *testing.T) {
	s := NewServer(nil, brokenService{}, nil)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/add", `{"text":"x"}`},
		{http.MethodPost, "/ask", `{"question":"x"}`},
		{http.MethodGet, "/status", ""},
	} {
		w := do(t, s, tc.method, tc.path, tc.body)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s: expected 500, got %d", tc.method, tc.path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "detail") {
			t.Fatalf("expected detail field, got %s", w.Body.String())
		}
	}
}
