package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("repograph.vectorstore")

// probeText is embedded once at startup to discover the provider's
// vector dimension.
const probeText = "test"

// Service is the backend-agnostic vector store. It owns embedding,
// document identity, and dimension agreement between the embedding
// provider and the backend collection.
type Service struct {
	backend  Backend
	embedder Embedder
	logger   *zap.Logger

	// dim is the provider's embedding dimension, fixed at startup.
	dim int
}

// NewService creates a Service over the given backend and embedder.
//
// Startup probes the embedder for its vector dimension, then brings the
// backend collection into agreement: a missing collection is created,
// a collection with a different dimension is destructively recreated.
// Recreation discards all stored documents; it is logged loudly and the
// caller is expected to re-index.
func NewService(backend Backend, embedder Embedder, logger *zap.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vecs, err := embedder.Embed(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("%w: probing embedding dimension: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: probe returned no vector", ErrEmbeddingFailed)
	}

	s := &Service{
		backend:  backend,
		embedder: embedder,
		logger:   logger,
		dim:      len(vecs[0]),
	}

	discarded, err := s.reconcileDimension(ctx)
	if err != nil {
		return nil, err
	}
	if discarded {
		logger.Warn("vector dimension changed, collection recreated and all documents discarded",
			zap.String("backend", backend.Kind()),
			zap.Int("dimension", s.dim))
	}

	logger.Info("vector store ready",
		zap.String("backend", backend.Kind()),
		zap.Int("dimension", s.dim),
		zap.String("metric", backend.Metric()))

	return s, nil
}

// reconcileDimension brings the backend collection's dimension into
// agreement with the embedder's. Returns true when existing documents
// were discarded to do so.
func (s *Service) reconcileDimension(ctx context.Context) (bool, error) {
	stored, err := s.backend.Dimension(ctx)
	if err != nil {
		return false, fmt.Errorf("reading collection dimension: %w", err)
	}

	switch {
	case stored == 0:
		if err := s.backend.Create(ctx, s.dim); err != nil {
			return false, fmt.Errorf("creating collection: %w", err)
		}
		return false, nil
	case stored == s.dim:
		return false, nil
	default:
		if err := s.backend.Recreate(ctx, s.dim); err != nil {
			return false, fmt.Errorf("recreating collection for dimension %d: %w", s.dim, err)
		}
		return true, nil
	}
}

// composeEmbedText builds the text embedded for one record. The path
// participates in the embedding so queries can match on file names.
func composeEmbedText(path, content string) string {
	return fmt.Sprintf("File: %s\n\nContent:\n%s", path, content)
}

// AddDocuments embeds the records and upserts them attributed to
// repoName. Returns the number of documents stored. An empty batch
// returns 0 without calling the embedding provider.
func (s *Service) AddDocuments(ctx context.Context, repoName string, records []Record) (int, error) {
	ctx, span := tracer.Start(ctx, "Service.AddDocuments")
	defer span.End()

	span.SetAttributes(
		attribute.String("repo", repoName),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return 0, nil
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = composeEmbedText(rec.Path, rec.Content)
	}

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(records) {
		return 0, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(records), len(vecs))
	}

	now := time.Now().UTC()
	docs := make([]Document, len(records))
	for i, rec := range records {
		docs[i] = Document{
			ID:          uuid.NewString(),
			Vector:      vecs[i],
			RepoName:    repoName,
			Path:        rec.Path,
			Content:     rec.Content,
			Extension:   rec.Extension,
			SizeBytes:   rec.SizeBytes,
			ModifiedAt:  rec.ModifiedAt,
			ContentHash: rec.ContentHash,
			IndexedAt:   now,
		}
	}

	if err := s.backend.Upsert(ctx, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("upserting documents: %w", err)
	}

	span.SetAttributes(attribute.Int("documents_added", len(docs)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("added documents",
		zap.String("repo", repoName),
		zap.Int("count", len(docs)))

	return len(docs), nil
}

// Search embeds the query and returns up to limit nearest documents,
// best first. A non-empty repoFilter restricts results to that
// repository.
func (s *Service) Search(ctx context.Context, query string, limit int, repoFilter string) ([]ScoredDocument, error) {
	ctx, span := tracer.Start(ctx, "Service.Search")
	defer span.End()

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.String("repo_filter", repoFilter),
	)

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	results, err := s.backend.Query(ctx, vecs[0], limit, repoFilter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying backend: %w", err)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteRepository removes all documents of one repository. Deleting an
// unknown repository succeeds without effect.
func (s *Service) DeleteRepository(ctx context.Context, repoName string) error {
	ctx, span := tracer.Start(ctx, "Service.DeleteRepository")
	defer span.End()

	span.SetAttributes(attribute.String("repo", repoName))

	if err := s.backend.DeleteRepository(ctx, repoName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting repository %s: %w", repoName, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Wipe discards all documents, recreating the collection empty at the
// current dimension.
func (s *Service) Wipe(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Service.Wipe")
	defer span.End()

	if err := s.backend.Recreate(ctx, s.dim); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("wiping collection: %w", err)
	}

	s.logger.Warn("vector store wiped", zap.String("backend", s.backend.Kind()))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats reports backend identity, document count, dimension and metric.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Service.Stats")
	defer span.End()

	count, err := s.backend.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return Stats{
		Backend:         s.backend.Kind(),
		TotalDocuments:  count,
		VectorDimension: s.dim,
		DistanceMetric:  s.backend.Metric(),
	}, nil
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}
