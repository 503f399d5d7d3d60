package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/efebarandurmaz/ragdemo/internal/api"
	"github.com/efebarandurmaz/ragdemo/internal/config"
	"github.com/efebarandurmaz/ragdemo/internal/embedding"
	"github.com/efebarandurmaz/ragdemo/internal/observability"
	"github.com/efebarandurmaz/ragdemo/internal/server"
	"github.com/efebarandurmaz/ragdemo/internal/vector"
	"github.com/efebarandurmaz/ragdemo/internal/vector/memory"
	"github.com/efebarandurmaz/ragdemo/internal/vector/qdrant"
	"github.com/efebarandurmaz/ragdemo/internal/workflow"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second
	shutdownGrace   = 5 * time.Second
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "ragdemo",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return err
	}

	// Probe once so the collection is prepared and the startup backend is logged.
	if st, err := app.store.Status(ctx); err != nil {
		logger.Error("Initial status check failed", "error", err)
	} else {
		logger.Info("Document store ready", "storage_type", st.StorageType, "documents", st.DocumentCount)
	}

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: shutdownTimeout,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
		Logger:  logger,
	})
	shutdown.Register(server.ReadinessShutdownHook(app.health))
	shutdown.Register(server.HTTPServerShutdownHook("api", app.api.Stop))
	shutdown.Register(server.TracingShutdownHook(tp.Shutdown))
	shutdown.Register(server.VectorStoreShutdownHook(app.store.Close))
	shutdown.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.api.Start()
	}()
	app.health.SetReady(true)

	select {
	case err := <-errCh:
		if err != nil {
			shutdown.Shutdown()
			waitShutdown(shutdown, shutdownTimeout+shutdownGrace, logger)
			return err
		}
	case <-shutdown.ShutdownCh():
	}
	waitShutdown(shutdown, shutdownTimeout+shutdownGrace, logger)
	return nil
}

// waitShutdown stops waiting after limit, so a hook that ignores its context
// cannot hang the process.
func waitShutdown(shutdown *server.ShutdownHandler, limit time.Duration, logger *slog.Logger) {
	if !shutdown.WaitWithTimeout(limit) {
		logger.Warn("Shutdown did not complete in time", "timeout", limit)
		return
	}
	logger.Info("Shutdown complete")
}

// app is the wired service.
type app struct {
	store   *vector.Store
	flow    *workflow.Workflow
	health  *server.HealthServer
	metrics *observability.RAGMetrics
	api     *api.Server
}

// buildApp constructs every component from cfg. Nothing here touches the
// network; the vector database is contacted lazily.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	emb, err := embedding.New(cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}

	target, err := cfg.Vector.QdrantTarget()
	if err != nil {
		return nil, err
	}
	primary, err := qdrant.New(qdrant.Config{
		Target:     target,
		Collection: cfg.Vector.Collection,
		Dimension:  cfg.Embedding.Dimension,
		Recreate:   cfg.Vector.Recreate,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	metrics := observability.NewRAGMetrics()
	store, err := vector.NewStore(primary, memory.New(cfg.Embedding.Dimension), cfg.Embedding.Dimension,
		vector.WithTimeout(cfg.Vector.Timeout),
		vector.WithLogger(logger),
		vector.WithMetrics(metrics),
	)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}

	flow, err := workflow.New(emb, store, workflow.Options{
		SearchLimit:   cfg.Search.Limit,
		PreviewLength: cfg.Answer.PreviewLength,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	health := server.NewHealthServer(&server.HealthConfig{Version: version})
	health.RegisterCheck("vector-db", server.VectorDBHealthChecker(target, primary.Reachable))
	health.RegisterCheck("store", server.StoreHealthChecker(store.Status))
	health.RegisterCheck("workflow", server.WorkflowHealthChecker(flow.Ready))

	mounts := health.Routes()
	mounts["/metrics"] = metrics.Handler()

	srv := api.NewServer(&api.Config{
		ListenAddr: cfg.Server.Addr,
		Title:      "Learning RAG Demo API",
		Version:    version,
	}, flow, mounts)

	return &app{
		store:   store,
		flow:    flow,
		health:  health,
		metrics: metrics,
		api:     srv,
	}, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadDotEnv loads variables from path without overriding the environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
