package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/config"
	"github.com/fyrsmithlabs/repograph/internal/embeddings"
	"github.com/fyrsmithlabs/repograph/internal/extract"
	"github.com/fyrsmithlabs/repograph/internal/fetch"
	"github.com/fyrsmithlabs/repograph/internal/knowledge"
	"github.com/fyrsmithlabs/repograph/internal/ledger"
	"github.com/fyrsmithlabs/repograph/internal/logging"
	"github.com/fyrsmithlabs/repograph/internal/vectorstore"
)

// app bundles everything a command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	graph  *knowledge.Graph

	provider embeddings.Provider
	store    *vectorstore.Service
}

// buildApp wires config, logging, embedding provider, vector backend,
// ledger and the knowledge graph. Callers must Close the app.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	provider, err := embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("building embeddings provider: %w", err)
	}

	backend, err := vectorstore.NewBackend(cfg.VectorStore, logger)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("building vector backend: %w", err)
	}

	store, err := vectorstore.NewService(backend, provider, logger)
	if err != nil {
		provider.Close()
		backend.Close()
		return nil, fmt.Errorf("building vector store: %w", err)
	}

	dataDir, err := config.ExpandPath(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("expanding data dir: %w", err)
	}
	reposDir, err := config.ExpandPath(cfg.Storage.ReposDir)
	if err != nil {
		return nil, fmt.Errorf("expanding repos dir: %w", err)
	}

	led, err := ledger.New(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	artifacts, err := ledger.NewArtifactStore(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening artifact store: %w", err)
	}

	extractor := extract.NewExtractor(extract.Options{
		MaxFileSize: cfg.Extract.MaxFileSize,
		Extensions:  cfg.Extract.Extensions,
		IgnoreDirs:  cfg.Extract.IgnoreDirs,
	}, logger)

	fetcher := fetch.NewFetcher(reposDir, cfg.GitHub.Token.Value(), logger)

	graph := knowledge.NewGraph(store, fetcher, extractor, led, artifacts, reposDir, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		graph:    graph,
		provider: provider,
		store:    store,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing vector store", zap.Error(err))
		}
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
	_ = a.logger.Sync()
}
