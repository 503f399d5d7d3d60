// Package api exposes the retrieval workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/efebarandurmaz/ragdemo/internal/vector"
	"github.com/efebarandurmaz/ragdemo/internal/workflow"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Service is the workflow surface the API consumes.
type Service interface {
	Ask(ctx context.Context, question string) (*workflow.Answer, error)
	Add(ctx context.Context, text string) (*workflow.AddResult, error)
	Status(ctx context.Context) (vector.Status, error)
	Ready() bool
}

// Config holds API server configuration.
type Config struct {
	ListenAddr string // e.g. ":8000"
	Title      string
	Version    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":8000", Title: "Learning RAG Demo API", Version: "1.0.0"}
}

// Server is the API HTTP server.
type Server struct {
	config  *Config
	service Service
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server. Extra handlers (health probes,
// metrics) are mounted at the given patterns.
func NewServer(config *Config, service Service, mounts map[string]http.Handler) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:  config,
		service: service,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/add", s.handleAdd)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)
	for pattern, h := range mounts {
		mux.Handle(pattern, h)
	}

	s.handler = loggingMiddleware(mux)
	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. It returns nil after Stop.
func (s *Server) Start() error {
	slog.Info("Starting API server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

type addRequest struct {
	Text *string `json:"text"`
}

type askRequest struct {
	Question *string `json:"question"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	QdrantReady   bool   `json:"qdrant_ready"`
	StorageType   string `json:"storage_type"`
	DocumentCount int    `json:"document_count"`
	GraphReady    bool   `json:"graph_ready"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleAdd handles POST /add
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req addRequest
	if status, err := decode(w, r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	if err := requireString("text", req.Text); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.service.Add(r.Context(), *req.Text)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error adding document: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleAsk handles POST /ask
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req askRequest
	if status, err := decode(w, r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	if err := requireString("question", req.Question); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ans, err := s.service.Ask(r.Context(), *req.Question)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error processing question: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ans)
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	st, err := s.service.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error reading status: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		QdrantReady:   st.BackendReady,
		StorageType:   string(st.StorageType),
		DocumentCount: st.DocumentCount,
		GraphReady:    s.service.Ready(),
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"message": s.config.Title,
		"version": s.config.Version,
		"docs":    "/status",
	})
}

// decode reads a JSON object from the request body. The returned status
// distinguishes malformed JSON from a well-formed body with a wrongly typed
// field.
func decode(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &typeErr):
			return http.StatusUnprocessableEntity, fmt.Errorf("field %q must be a %s", typeErr.Field, typeErr.Type)
		case errors.As(err, &maxErr):
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		case errors.Is(err, io.EOF):
			return http.StatusBadRequest, errors.New("request body is empty")
		default:
			return http.StatusBadRequest, fmt.Errorf("invalid JSON body: %v", err)
		}
	}
	return 0, nil
}

func requireString(field string, v *string) error {
	if v == nil {
		return fmt.Errorf("field %q is required", field)
	}
	if *v == "" {
		return fmt.Errorf("field %q must not be empty", field)
	}
	return nil
}

// respondJSON writes data as JSON with the given status.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
