package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/config"
)

// NewBackend creates the vector backend selected by cfg.Provider.
//
// When Qdrant is selected but unreachable, the process degrades to an
// in-memory chromem backend instead of failing: indexing and search
// keep working for the life of the process, without persistence. The
// degradation is logged as a warning.
func NewBackend(cfg config.VectorStoreConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "chromem":
		path, err := config.ExpandPath(cfg.Chromem.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding chromem path: %w", err)
		}
		return NewChromemBackend(path, cfg.Chromem.Compress, cfg.Collection, logger)

	case "qdrant":
		backend, err := NewQdrantBackend(QdrantOptions{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			UseTLS: cfg.Qdrant.UseTLS,
		}, cfg.Collection, logger)
		if err != nil {
			logger.Warn("qdrant unreachable, falling back to in-memory store",
				zap.String("host", cfg.Qdrant.Host),
				zap.Int("port", cfg.Qdrant.Port),
				zap.Error(err))
			return NewChromemMemoryBackend(cfg.Collection, logger)
		}
		return backend, nil

	case "sqlite":
		path, err := config.ExpandPath(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding sqlite path: %w", err)
		}
		return NewSQLiteBackend(path, logger)

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
