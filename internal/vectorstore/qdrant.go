package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantOptions holds connection settings for the Qdrant gRPC backend.
type QdrantOptions struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per retry. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message size cap. Default: 50MB, large
	// enough for whole-repository upsert batches.
	MaxMessageSize int
}

func (o *QdrantOptions) applyDefaults() {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 6334
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff == 0 {
		o.RetryBackoff = time.Second
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = 50 * 1024 * 1024
	}
}

// isTransientError reports whether a gRPC error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantBackend stores vectors in a remote Qdrant server over gRPC.
//
// The gRPC transport avoids Qdrant's HTTP payload limit, which matters
// for whole-repository batches. Distance is cosine; Qdrant returns
// similarity scores directly.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
	opts       QdrantOptions
	logger     *zap.Logger
}

// NewQdrantBackend connects to Qdrant and verifies it with a health
// check. Returns ErrConnectionFailed when the server is unreachable so
// callers can fall back to an embedded store.
func NewQdrantBackend(opts QdrantOptions, collection string, logger *zap.Logger) (*QdrantBackend, error) {
	opts.applyDefaults()

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, insecure for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		UseTLS: opts.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMessageSize),
				grpc.MaxCallSendMsgSize(opts.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	b := &QdrantBackend{
		client:     client,
		collection: collection,
		opts:       opts,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant backend initialized",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.String("collection", collection))

	return b, nil
}

// Kind returns "qdrant".
func (b *QdrantBackend) Kind() string { return "qdrant" }

// Metric returns "cosine".
func (b *QdrantBackend) Metric() string { return "cosine" }

// retry runs operation with exponential backoff on transient gRPC
// failures.
func (b *QdrantBackend) retry(ctx context.Context, name string, operation func() error) error {
	backoff := b.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == b.opts.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, b.opts.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Dimension reads the collection's configured vector size, 0 if the
// collection does not exist.
func (b *QdrantBackend) Dimension(ctx context.Context) (int, error) {
	var dim int
	err := b.retry(ctx, "get_collection_info", func() error {
		info, err := b.client.GetCollectionInfo(ctx, b.collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				dim = 0
				return nil
			}
			return err
		}
		dim = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dim, nil
}

// Create creates the collection with the given dimension.
func (b *QdrantBackend) Create(ctx context.Context, dim int) error {
	err := b.retry(ctx, "create_collection", func() error {
		return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: b.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", b.collection, err)
	}
	return nil
}

// Recreate drops and recreates the collection, discarding all points.
func (b *QdrantBackend) Recreate(ctx context.Context, dim int) error {
	err := b.retry(ctx, "delete_collection", func() error {
		return b.client.DeleteCollection(ctx, b.collection)
	})
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", b.collection, err)
	}
	return b.Create(ctx, dim)
}

// Upsert inserts or replaces points by document ID.
func (b *QdrantBackend) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: map[string]*qdrant.Value{
				"repo_name":    {Kind: &qdrant.Value_StringValue{StringValue: doc.RepoName}},
				"path":         {Kind: &qdrant.Value_StringValue{StringValue: doc.Path}},
				"content":      {Kind: &qdrant.Value_StringValue{StringValue: doc.Content}},
				"extension":    {Kind: &qdrant.Value_StringValue{StringValue: doc.Extension}},
				"size_bytes":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: doc.SizeBytes}},
				"modified_at":  {Kind: &qdrant.Value_StringValue{StringValue: doc.ModifiedAt.UTC().Format(time.RFC3339)}},
				"content_hash": {Kind: &qdrant.Value_StringValue{StringValue: doc.ContentHash}},
				"indexed_at":   {Kind: &qdrant.Value_StringValue{StringValue: doc.IndexedAt.UTC().Format(time.RFC3339)}},
			},
		}
	}

	err := b.retry(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return nil
}

func repoNameFilter(repoName string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "repo_name",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: repoName},
						},
					},
				},
			},
		},
	}
}

// Query runs a similarity search, optionally filtered to one repository.
func (b *QdrantBackend) Query(ctx context.Context, vector []float32, limit int, repoFilter string) ([]ScoredDocument, error) {
	var filter *qdrant.Filter
	if repoFilter != "" {
		filter = repoNameFilter(repoFilter)
	}

	var points []*qdrant.ScoredPoint
	err := b.retry(ctx, "query", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: b.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", b.collection, err)
	}

	results := make([]ScoredDocument, len(points))
	for i, point := range points {
		results[i] = scoredFromQdrant(point)
	}
	return results, nil
}

func scoredFromQdrant(point *qdrant.ScoredPoint) ScoredDocument {
	doc := Document{
		ID: point.GetId().GetUuid(),
	}
	for key, value := range point.GetPayload() {
		switch key {
		case "repo_name":
			doc.RepoName = value.GetStringValue()
		case "path":
			doc.Path = value.GetStringValue()
		case "content":
			doc.Content = value.GetStringValue()
		case "extension":
			doc.Extension = value.GetStringValue()
		case "size_bytes":
			doc.SizeBytes = value.GetIntegerValue()
		case "modified_at":
			doc.ModifiedAt, _ = time.Parse(time.RFC3339, value.GetStringValue())
		case "content_hash":
			doc.ContentHash = value.GetStringValue()
		case "indexed_at":
			doc.IndexedAt, _ = time.Parse(time.RFC3339, value.GetStringValue())
		}
	}
	return ScoredDocument{Document: doc, Score: point.GetScore()}
}

// DeleteRepository removes all points attributed to repoName.
func (b *QdrantBackend) DeleteRepository(ctx context.Context, repoName string) error {
	err := b.retry(ctx, "delete_repository", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: b.collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: repoNameFilter(repoName),
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting repository %s: %w", repoName, err)
	}
	return nil
}

// Count returns the collection's point count.
func (b *QdrantBackend) Count(ctx context.Context) (int, error) {
	var count int
	err := b.retry(ctx, "count", func() error {
		info, err := b.client.GetCollectionInfo(ctx, b.collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				count = 0
				return nil
			}
			return err
		}
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return count, nil
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

var _ Backend = (*QdrantBackend)(nil)
