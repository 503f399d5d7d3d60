// Package qdrant implements vector.Backend over the Qdrant gRPC API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/efebarandurmaz/ragdemo/internal/vector"
	pb "github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// payloadText is the payload key holding a document's text.
const payloadText = "text"

// Config describes the collection a Backend manages.
type Config struct {
	// Target is the gRPC host:port.
	Target     string
	Collection string
	Dimension  int
	// Recreate drops an existing collection on first contact.
	Recreate bool
	Logger   *slog.Logger
}

// Backend implements vector.Backend using Qdrant.
type Backend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	service     pb.QdrantClient
	cfg         Config
	logger      *slog.Logger

	prepared atomic.Bool
	prepare  singleflight.Group
}

// New creates a Qdrant-backed backend. The connection is established
// lazily, so an unreachable server is not an error here.
func New(cfg Config) (*Backend, error) {
	conn, err := grpc.NewClient(cfg.Target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return NewWithConn(conn, cfg), nil
}

// NewWithConn wraps an existing connection. The Backend takes ownership of conn.
func NewWithConn(conn *grpc.ClientConn, cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		service:     pb.NewQdrantClient(conn),
		cfg:         cfg,
		logger:      logger.With("component", "qdrant", "collection", cfg.Collection),
	}
}

// ensureCollection creates the collection the first time the server is
// reached. Concurrent callers share a single attempt; a failed attempt is
// retried on the next call.
func (b *Backend) ensureCollection(ctx context.Context) error {
	if b.prepared.Load() {
		return nil
	}
	_, err, _ := b.prepare.Do("collection", func() (any, error) {
		if b.prepared.Load() {
			return nil, nil
		}
		if err := b.createCollection(ctx); err != nil {
			return nil, err
		}
		b.prepared.Store(true)
		return nil, nil
	})
	return err
}

func (b *Backend) createCollection(ctx context.Context) error {
	name := b.cfg.Collection
	if b.cfg.Recreate {
		if _, err := b.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil && status.Code(err) != codes.NotFound {
			return classify("delete collection", err)
		}
	} else {
		resp, err := b.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
		if err != nil {
			return classify("collection exists", err)
		}
		if resp.GetResult().GetExists() {
			b.logger.Info("Using existing collection")
			return nil
		}
	}

	_, err := b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{
				Size:     uint64(b.cfg.Dimension),
				Distance: pb.Distance_Cosine,
			},
		}},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return classify("create collection", err)
	}
	b.logger.Info("Collection ready", "dimension", b.cfg.Dimension, "recreated", b.cfg.Recreate)
	return nil
}

func (b *Backend) Write(ctx context.Context, doc vector.Document) error {
	if err := b.ensureCollection(ctx); err != nil {
		return err
	}

	wait := true
	_, err := b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: b.cfg.Collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(doc.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: doc.Vector}}},
			Payload: map[string]*pb.Value{
				payloadText: {Kind: &pb.Value_StringValue{StringValue: doc.Text}},
			},
		}},
	})
	return classify("upsert", err)
}

// tieWindow bounds how many extra points one Query fetches to collect ties
// at the k-th score.
const tieWindow = 64

// Query returns the k closest points, ties broken by ascending id. Qdrant
// breaks ties at the limit arbitrarily, so a full page is fetched again with
// the k-th score as threshold before ranking. Vectors come back normalized,
// since the collection uses cosine distance.
func (b *Backend) Query(ctx context.Context, vec []float32, k int) ([]vector.SearchResult, error) {
	if k < 1 {
		return nil, vector.ErrInvalidLimit
	}
	if err := b.ensureCollection(ctx); err != nil {
		return nil, err
	}

	results, err := b.search(ctx, vec, uint64(k), nil)
	if err != nil {
		return nil, err
	}
	if len(results) == k {
		kth := results[k-1].Score
		results, err = b.search(ctx, vec, uint64(k+tieWindow), &kth)
		if err != nil {
			return nil, err
		}
	}
	return vector.Rank(results, k), nil
}

func (b *Backend) search(ctx context.Context, vec []float32, limit uint64, threshold *float32) ([]vector.SearchResult, error) {
	resp, err := b.points.Search(ctx, &pb.SearchPoints{
		CollectionName: b.cfg.Collection,
		Vector:         vec,
		Limit:          limit,
		ScoreThreshold: threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, classify("search", err)
	}

	results := make([]vector.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		results = append(results, vector.SearchResult{
			Document: vector.Document{
				ID:     int64(pt.GetId().GetNum()),
				Text:   pt.GetPayload()[payloadText].GetStringValue(),
				Vector: pt.GetVectors().GetVector().GetData(),
			},
			Score: pt.GetScore(),
		})
	}
	return results, nil
}

func (b *Backend) Count(ctx context.Context) (int, error) {
	if err := b.ensureCollection(ctx); err != nil {
		return 0, err
	}
	exact := true
	resp, err := b.points.Count(ctx, &pb.CountPoints{
		CollectionName: b.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, classify("count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Reachable calls the server health check.
func (b *Backend) Reachable(ctx context.Context) bool {
	_, err := b.service.HealthCheck(ctx, &pb.HealthCheckRequest{})
	return err == nil
}

func (b *Backend) Close() error {
	return b.conn.Close()
}

// classify maps a gRPC failure onto vector.ErrUnavailable (transport) or
// vector.ErrRejected (the server answered and refused).
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, vector.ErrUnavailable) || errors.Is(err, vector.ErrRejected) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("qdrant %s: %w: %v", op, vector.ErrUnavailable, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("qdrant %s: %w: %v", op, vector.ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted, codes.ResourceExhausted:
		return fmt.Errorf("qdrant %s: %w: %s", op, vector.ErrUnavailable, st.Message())
	default:
		return fmt.Errorf("qdrant %s: %w: %s: %s", op, vector.ErrRejected, st.Code(), st.Message())
	}
}

var _ vector.Backend = (*Backend)(nil)
