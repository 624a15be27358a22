package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// dimensionFile is the sidecar recording the persisted collection's
// vector dimension. chromem does not expose the stored dimension, so it
// is tracked alongside the database directory.
const dimensionFile = "dimension"

// ChromemBackend stores vectors in an embedded chromem-go database,
// either persisted to disk or purely in memory.
//
// chromem-go is pure Go with no external service. All similarity is
// cosine; scores come back as similarity directly.
type ChromemBackend struct {
	db         *chromem.DB
	collection string
	logger     *zap.Logger

	// persistPath is empty for the in-memory variant.
	persistPath string

	// memDim holds the dimension for the in-memory variant, which has
	// no sidecar file.
	memDim int
}

// NewChromemBackend opens or creates a persistent chromem database at
// path.
func NewChromemBackend(path string, compress bool, collection string, logger *zap.Logger) (*ChromemBackend, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("chromem backend initialized",
		zap.String("path", path),
		zap.Bool("compress", compress),
		zap.String("collection", collection))

	return &ChromemBackend{
		db:          db,
		collection:  collection,
		persistPath: path,
		logger:      logger,
	}, nil
}

// NewChromemMemoryBackend creates a purely in-memory chromem database.
// Contents are lost on process exit.
func NewChromemMemoryBackend(collection string, logger *zap.Logger) (*ChromemBackend, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemBackend{
		db:         chromem.NewDB(),
		collection: collection,
		logger:     logger,
	}, nil
}

// Kind returns "chromem".
func (b *ChromemBackend) Kind() string { return "chromem" }

// Metric returns "cosine".
func (b *ChromemBackend) Metric() string { return "cosine" }

// embeddingFunc satisfies chromem's collection API. All documents carry
// precomputed embeddings, so it must never be called.
func (b *ChromemBackend) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embeddings must be precomputed")
	}
}

func (b *ChromemBackend) getCollection() *chromem.Collection {
	return b.db.GetCollection(b.collection, b.embeddingFunc())
}

// Dimension returns the collection's vector dimension, 0 if absent.
func (b *ChromemBackend) Dimension(ctx context.Context) (int, error) {
	if b.persistPath == "" {
		return b.memDim, nil
	}
	data, err := os.ReadFile(filepath.Join(b.persistPath, dimensionFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading dimension sidecar: %w", err)
	}
	dim, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("parsing dimension sidecar: %w", err)
	}
	return dim, nil
}

func (b *ChromemBackend) writeDimension(dim int) error {
	if b.persistPath == "" {
		b.memDim = dim
		return nil
	}
	path := filepath.Join(b.persistPath, dimensionFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(dim)), 0o644); err != nil {
		return fmt.Errorf("writing dimension sidecar: %w", err)
	}
	return nil
}

// Create creates the collection with the given dimension.
func (b *ChromemBackend) Create(ctx context.Context, dim int) error {
	if _, err := b.db.GetOrCreateCollection(b.collection, nil, b.embeddingFunc()); err != nil {
		return fmt.Errorf("creating collection %s: %w", b.collection, err)
	}
	return b.writeDimension(dim)
}

// Recreate destroys the collection and creates it empty with dim.
func (b *ChromemBackend) Recreate(ctx context.Context, dim int) error {
	if err := b.db.DeleteCollection(b.collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", b.collection, err)
	}
	return b.Create(ctx, dim)
}

// Upsert inserts documents with precomputed embeddings.
func (b *ChromemBackend) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	collection, err := b.db.GetOrCreateCollection(b.collection, nil, b.embeddingFunc())
	if err != nil {
		return fmt.Errorf("getting collection %s: %w", b.collection, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Vector,
			Metadata: map[string]string{
				"repo_name":    doc.RepoName,
				"path":         doc.Path,
				"extension":    doc.Extension,
				"size_bytes":   strconv.FormatInt(doc.SizeBytes, 10),
				"modified_at":  doc.ModifiedAt.UTC().Format(time.RFC3339),
				"content_hash": doc.ContentHash,
				"indexed_at":   doc.IndexedAt.UTC().Format(time.RFC3339),
			},
		}
	}

	// Concurrency of 1: embeddings are already present, chromem does no work
	// per document beyond insertion.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Query ranks all stored documents by cosine similarity.
//
// chromem rejects nResults larger than the filtered document set, so the
// repository filter is applied here after ranking the full collection.
func (b *ChromemBackend) Query(ctx context.Context, vector []float32, limit int, repoFilter string) ([]ScoredDocument, error) {
	collection := b.getCollection()
	if collection == nil {
		return nil, nil
	}

	total := collection.Count()
	if total == 0 {
		return nil, nil
	}

	n := limit
	if repoFilter != "" || n > total {
		n = total
	}

	results, err := collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", b.collection, err)
	}

	scored := make([]ScoredDocument, 0, limit)
	for _, r := range results {
		if repoFilter != "" && r.Metadata["repo_name"] != repoFilter {
			continue
		}
		scored = append(scored, scoredFromChromem(r))
		if len(scored) == limit {
			break
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored, nil
}

func scoredFromChromem(r chromem.Result) ScoredDocument {
	size, _ := strconv.ParseInt(r.Metadata["size_bytes"], 10, 64)
	modifiedAt, _ := time.Parse(time.RFC3339, r.Metadata["modified_at"])
	indexedAt, _ := time.Parse(time.RFC3339, r.Metadata["indexed_at"])

	return ScoredDocument{
		Document: Document{
			ID:          r.ID,
			RepoName:    r.Metadata["repo_name"],
			Path:        r.Metadata["path"],
			Content:     r.Content,
			Extension:   r.Metadata["extension"],
			SizeBytes:   size,
			ModifiedAt:  modifiedAt,
			ContentHash: r.Metadata["content_hash"],
			IndexedAt:   indexedAt,
		},
		Score: r.Similarity,
	}
}

// DeleteRepository removes all documents attributed to repoName.
func (b *ChromemBackend) DeleteRepository(ctx context.Context, repoName string) error {
	collection := b.getCollection()
	if collection == nil {
		return nil
	}
	if err := collection.Delete(ctx, map[string]string{"repo_name": repoName}, nil); err != nil {
		return fmt.Errorf("deleting repository %s: %w", repoName, err)
	}
	return nil
}

// Count returns the number of stored documents.
func (b *ChromemBackend) Count(ctx context.Context) (int, error) {
	collection := b.getCollection()
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

// Close is a no-op; chromem persists on write.
func (b *ChromemBackend) Close() error { return nil }

var _ Backend = (*ChromemBackend)(nil)
