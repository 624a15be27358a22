// Package embeddings provides text embedding providers.
package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/config"
)

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed returns one vector per input text, in input order. An empty
	// input returns nil without a network call.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model name.
	Model() string

	// Close releases provider resources.
	Close() error
}

// NewProvider creates an embedding provider from config.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (supported: ollama)", cfg.Provider)
	}
}
