// Package vectorstore provides vector storage over pluggable backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidCollectionName indicates a collection name that fails
	// validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects uppercase, special characters, path
// traversal and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Embedder generates embedding vectors from text.
// All vectors from one Embedder have the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Backend is one vector storage driver. Backends store and query
// pre-embedded documents; they never call an embedder themselves.
//
// A backend's collection is dimension-bound: Create fixes the vector
// dimension and Upsert/Query must use vectors of that dimension.
// Recreate destroys the collection and recreates it empty with a new
// dimension.
type Backend interface {
	// Kind returns the backend identifier ("chromem", "qdrant", "sqlite").
	Kind() string

	// Metric returns the native distance metric ("cosine" or "l2").
	Metric() string

	// Dimension returns the stored collection's vector dimension, or 0
	// when no collection exists yet.
	Dimension(ctx context.Context) (int, error)

	// Create creates the collection with the given vector dimension.
	Create(ctx context.Context, dim int) error

	// Recreate destroys the collection, discarding all documents, and
	// creates it empty with the given dimension.
	Recreate(ctx context.Context, dim int) error

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to limit documents nearest to vector, best first.
	// A non-empty repoFilter restricts results to that repository.
	// Scores are normalized to similarity regardless of Metric.
	Query(ctx context.Context, vector []float32, limit int, repoFilter string) ([]ScoredDocument, error)

	// DeleteRepository removes all documents of one repository.
	// Deleting an unknown repository is not an error.
	DeleteRepository(ctx context.Context, repoName string) error

	// Count returns the total number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
