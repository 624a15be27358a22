// Package knowledge orchestrates repository indexing: fetching,
// extraction, vector storage and the ledger that ties them together.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/extract"
	"github.com/fyrsmithlabs/repograph/internal/fetch"
	"github.com/fyrsmithlabs/repograph/internal/ledger"
	"github.com/fyrsmithlabs/repograph/internal/vectorstore"
)

var tracer = otel.Tracer("repograph.knowledge")

// Sentinel errors for graph operations.
var (
	// ErrNoFiles indicates an extraction pass produced zero indexable
	// files. Nothing is mutated in that case.
	ErrNoFiles = errors.New("no indexable files found")

	// ErrRepoNotFound indicates an operation on a repository the ledger
	// does not know.
	ErrRepoNotFound = errors.New("repository not found")
)

// VectorStore is the slice of the vector store the graph needs.
type VectorStore interface {
	AddDocuments(ctx context.Context, repoName string, records []vectorstore.Record) (int, error)
	Search(ctx context.Context, query string, limit int, repoFilter string) ([]vectorstore.ScoredDocument, error)
	DeleteRepository(ctx context.Context, repoName string) error
	Wipe(ctx context.Context) error
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

// Fetcher materializes a source into a local tree.
type Fetcher interface {
	Materialize(ctx context.Context, source string) (fetch.Checkout, error)
}

// Extractor produces file records from a local tree.
type Extractor interface {
	Extract(ctx context.Context, root string) ([]extract.FileRecord, extract.RepositoryMetadata, error)
}

// AddResult reports one completed indexing pass.
type AddResult struct {
	Name         string `json:"name"`
	FilesIndexed int    `json:"files_indexed"`
	ArtifactPath string `json:"artifact_path"`
	IsRemote     bool   `json:"is_remote"`
}

// RepositoryGroup is one repository's slice of a grouped search:
// its files ordered best first and the mean score of those files.
// Repositories are ranked by mean, never by their single best hit, so
// one lucky file cannot carry an otherwise irrelevant repository.
type RepositoryGroup struct {
	RepoName  string                       `json:"repo_name"`
	MeanScore float64                      `json:"mean_score"`
	Files     []vectorstore.ScoredDocument `json:"files"`
}

// RepositoryInfo describes one ledger entry for listing.
type RepositoryInfo struct {
	Name           string    `json:"name"`
	Source         string    `json:"source"`
	IsRemote       bool      `json:"is_remote"`
	ProcessedAt    time.Time `json:"processed_at"`
	FilesProcessed int       `json:"files_processed"`
}

// RepositoryStats is per-repository detail inside a stats report.
type RepositoryStats struct {
	Name      string         `json:"name"`
	FileCount int            `json:"file_count"`
	SizeMB    float64        `json:"size_mb"`
	Languages map[string]int `json:"languages"`
}

// StatsReport aggregates ledger, artifact and vector store state.
// A failing vector store degrades the report instead of failing it.
type StatsReport struct {
	Repositories     []RepositoryStats  `json:"repositories"`
	TotalFiles       int                `json:"total_files"`
	TotalSizeMB      float64            `json:"total_size_mb"`
	VectorStore      *vectorstore.Stats `json:"vector_store,omitempty"`
	VectorStoreError string             `json:"vector_store_error,omitempty"`
}

// keyedMutex serializes writers per repository name. Different
// repositories proceed concurrently; reads never take these locks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(name string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[name]
	if !ok {
		l = &sync.Mutex{}
		k.locks[name] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Graph is the indexing orchestrator. It keeps the ledger as the source
// of truth for what has been indexed and the vector store as the
// queryable projection of it.
type Graph struct {
	store     VectorStore
	fetcher   Fetcher
	extractor Extractor
	ledger    *ledger.Ledger
	artifacts *ledger.ArtifactStore
	reposDir  string
	logger    *zap.Logger

	writers keyedMutex
}

// NewGraph wires the orchestrator. reposDir is the directory clones are
// materialized under; removal only deletes checkouts inside it.
func NewGraph(store VectorStore, fetcher Fetcher, extractor Extractor, led *ledger.Ledger, artifacts *ledger.ArtifactStore, reposDir string, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		ledger:    led,
		artifacts: artifacts,
		reposDir:  reposDir,
		logger:    logger,
	}
}

// recordsFromFiles converts extraction output to store input.
func recordsFromFiles(files []extract.FileRecord) []vectorstore.Record {
	records := make([]vectorstore.Record, len(files))
	for i, f := range files {
		records[i] = vectorstore.Record{
			Path:        f.Path,
			Content:     f.Content,
			Extension:   f.Extension,
			SizeBytes:   f.SizeBytes,
			ModifiedAt:  f.ModifiedAt,
			ContentHash: f.ContentHash,
		}
	}
	return records
}

// AddRepository indexes a source end to end: materialize, extract,
// persist the artifact, embed into the vector store, commit the ledger.
// An empty name derives one from the source; a custom name lets two
// sources with the same basename coexist.
//
// Re-adding a known name is last-write-wins: the new pass is indexed on
// top and the ledger entry replaced. A pass with zero indexable files
// returns ErrNoFiles and mutates nothing.
func (g *Graph) AddRepository(ctx context.Context, source, name string) (AddResult, error) {
	ctx, span := tracer.Start(ctx, "Graph.AddRepository")
	defer span.End()

	if name == "" {
		name = fetch.RepoNameFromSource(source)
	}
	span.SetAttributes(attribute.String("source", source), attribute.String("repo", name))

	unlock := g.writers.lock(name)
	defer unlock()

	checkout, err := g.fetcher.Materialize(ctx, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, fmt.Errorf("materializing %s: %w", source, err)
	}
	checkout.Name = name

	result, err := g.indexCheckout(ctx, source, checkout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, err
	}

	span.SetAttributes(attribute.Int("files_indexed", result.FilesIndexed))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// indexCheckout runs extraction through ledger commit for a materialized
// tree. Caller holds the writer lock for checkout.Name.
func (g *Graph) indexCheckout(ctx context.Context, source string, checkout fetch.Checkout) (AddResult, error) {
	files, meta, err := g.extractor.Extract(ctx, checkout.Path)
	if err != nil {
		return AddResult{}, fmt.Errorf("extracting %s: %w", checkout.Path, err)
	}
	if len(files) == 0 {
		return AddResult{}, fmt.Errorf("%w in %s", ErrNoFiles, checkout.Path)
	}

	// Attribution follows the ledger name, not the directory base name.
	meta.Name = checkout.Name
	if checkout.IsRemote {
		meta.Origin = source
	}

	artifactPath, err := g.artifacts.Write(checkout.Name, ledger.Artifact{
		Metadata: meta,
		Files:    files,
	})
	if err != nil {
		return AddResult{}, fmt.Errorf("writing artifact: %w", err)
	}

	added, err := g.store.AddDocuments(ctx, checkout.Name, recordsFromFiles(files))
	if err != nil {
		return AddResult{}, fmt.Errorf("indexing %s: %w", checkout.Name, err)
	}

	entry := ledger.Entry{
		Source:         source,
		IsRemote:       checkout.IsRemote,
		ProcessedAt:    time.Now().UTC(),
		FilesProcessed: added,
		ArtifactPath:   artifactPath,
		RepoPath:       checkout.Path,
	}
	if err := g.ledger.Commit(checkout.Name, entry); err != nil {
		return AddResult{}, fmt.Errorf("committing ledger: %w", err)
	}

	g.logger.Info("repository indexed",
		zap.String("repo", checkout.Name),
		zap.String("source", source),
		zap.Int("files", added))

	return AddResult{
		Name:         checkout.Name,
		FilesIndexed: added,
		ArtifactPath: artifactPath,
		IsRemote:     checkout.IsRemote,
	}, nil
}

// UpdateRepository re-indexes a known repository from its recorded
// source. Unlike AddRepository, stale documents are removed first, so an
// update reflects deletions in the source tree. Returns ErrRepoNotFound
// for unknown names.
func (g *Graph) UpdateRepository(ctx context.Context, name string) (AddResult, error) {
	ctx, span := tracer.Start(ctx, "Graph.UpdateRepository")
	defer span.End()

	span.SetAttributes(attribute.String("repo", name))

	unlock := g.writers.lock(name)
	defer unlock()

	// The entry read shares the writer critical section: a remove that
	// wins the lock must not be followed by a re-index of its repository.
	entry, ok := g.ledger.Get(name)
	if !ok {
		return AddResult{}, fmt.Errorf("%w: %s", ErrRepoNotFound, name)
	}

	checkout, err := g.fetcher.Materialize(ctx, entry.Source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, fmt.Errorf("materializing %s: %w", entry.Source, err)
	}
	checkout.Name = name

	if err := g.store.DeleteRepository(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, fmt.Errorf("removing stale documents of %s: %w", name, err)
	}

	oldArtifact := entry.ArtifactPath

	result, err := g.indexCheckout(ctx, entry.Source, checkout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, err
	}

	if oldArtifact != "" && oldArtifact != result.ArtifactPath {
		if err := g.artifacts.Remove(oldArtifact); err != nil {
			g.logger.Warn("stale artifact not removed",
				zap.String("path", oldArtifact), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("files_indexed", result.FilesIndexed))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// RemoveRepository forgets a repository: vector documents, artifact,
// the materialized clone under the repos directory and the ledger
// entry. Local trees indexed in place are never deleted. Returns false
// for unknown names; that is not an error.
func (g *Graph) RemoveRepository(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Graph.RemoveRepository")
	defer span.End()

	span.SetAttributes(attribute.String("repo", name))

	unlock := g.writers.lock(name)
	defer unlock()

	entry, ok := g.ledger.Get(name)
	if !ok {
		return false, nil
	}

	if err := g.store.DeleteRepository(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("deleting documents of %s: %w", name, err)
	}

	if entry.ArtifactPath != "" {
		if err := g.artifacts.Remove(entry.ArtifactPath); err != nil {
			g.logger.Warn("artifact not removed",
				zap.String("path", entry.ArtifactPath), zap.Error(err))
		}
	}

	g.removeClone(name, entry.RepoPath)

	removed, err := g.ledger.Remove(name)
	if err != nil {
		return false, fmt.Errorf("removing ledger entry: %w", err)
	}

	g.logger.Info("repository removed", zap.String("repo", name))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

// removeClone deletes a materialized checkout, but only when it lives
// under the managed repos directory. Trees indexed in place stay put.
func (g *Graph) removeClone(name, repoPath string) {
	if g.reposDir == "" || repoPath == "" {
		return
	}
	base, err := filepath.Abs(g.reposDir)
	if err != nil {
		return
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}
	if err := os.RemoveAll(abs); err != nil {
		g.logger.Warn("clone not removed", zap.String("path", abs), zap.Error(err))
		return
	}
	g.logger.Info("clone removed", zap.String("repo", name), zap.String("path", abs))
}

// Search returns up to limit files across repositories, best first.
// A non-empty repoFilter restricts results to one repository.
func (g *Graph) Search(ctx context.Context, query string, limit int, repoFilter string) ([]vectorstore.ScoredDocument, error) {
	return g.store.Search(ctx, query, limit, repoFilter)
}

// SearchWithContext runs a widened search and groups hits by
// repository. Repositories are ordered by the mean score of their hits
// and capped at limit; files within a repository are ordered by score.
func (g *Graph) SearchWithContext(ctx context.Context, query string, limit int) ([]RepositoryGroup, error) {
	ctx, span := tracer.Start(ctx, "Graph.SearchWithContext")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	// Twice the limit so grouping has enough spread across repositories.
	hits, err := g.store.Search(ctx, query, 2*limit, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	byRepo := make(map[string][]vectorstore.ScoredDocument)
	for _, hit := range hits {
		byRepo[hit.RepoName] = append(byRepo[hit.RepoName], hit)
	}

	groups := make([]RepositoryGroup, 0, len(byRepo))
	for repo, files := range byRepo {
		sort.SliceStable(files, func(i, j int) bool { return files[i].Score > files[j].Score })

		var sum float64
		for _, f := range files {
			sum += float64(f.Score)
		}
		groups = append(groups, RepositoryGroup{
			RepoName:  repo,
			MeanScore: sum / float64(len(files)),
			Files:     files,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].MeanScore != groups[j].MeanScore {
			return groups[i].MeanScore > groups[j].MeanScore
		}
		return groups[i].RepoName < groups[j].RepoName
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}

	span.SetAttributes(attribute.Int("repositories", len(groups)))
	span.SetStatus(codes.Ok, "success")
	return groups, nil
}

// ListRepositories returns all ledger entries sorted by name.
func (g *Graph) ListRepositories() []RepositoryInfo {
	entries := g.ledger.List()
	infos := make([]RepositoryInfo, 0, len(entries))
	for name, entry := range entries {
		infos = append(infos, RepositoryInfo{
			Name:           name,
			Source:         entry.Source,
			IsRemote:       entry.IsRemote,
			ProcessedAt:    entry.ProcessedAt,
			FilesProcessed: entry.FilesProcessed,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stats aggregates artifact metadata across all indexed repositories.
// Corrupt or missing artifacts are skipped with a warning. Vector store
// failure is reported inside the result, not as an error.
func (g *Graph) Stats(ctx context.Context) StatsReport {
	ctx, span := tracer.Start(ctx, "Graph.Stats")
	defer span.End()

	var report StatsReport
	for name, entry := range g.ledger.List() {
		artifact, err := g.artifacts.Read(entry.ArtifactPath)
		if err != nil {
			g.logger.Warn("skipping unreadable artifact",
				zap.String("repo", name),
				zap.String("path", entry.ArtifactPath),
				zap.Error(err))
			continue
		}
		report.Repositories = append(report.Repositories, RepositoryStats{
			Name:      name,
			FileCount: artifact.Metadata.FileCount,
			SizeMB:    artifact.Metadata.SizeMB,
			Languages: artifact.Metadata.Languages,
		})
		report.TotalFiles += artifact.Metadata.FileCount
		report.TotalSizeMB += artifact.Metadata.SizeMB
	}
	sort.Slice(report.Repositories, func(i, j int) bool {
		return report.Repositories[i].Name < report.Repositories[j].Name
	})

	stats, err := g.store.Stats(ctx)
	if err != nil {
		report.VectorStoreError = err.Error()
	} else {
		report.VectorStore = &stats
	}
	return report
}

// Wipe clears the vector store and forgets every ledger entry, removing
// their artifacts. Clones under the repos directory are left in place.
func (g *Graph) Wipe(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Graph.Wipe")
	defer span.End()

	if err := g.store.Wipe(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("wiping vector store: %w", err)
	}

	for name, entry := range g.ledger.List() {
		if entry.ArtifactPath != "" {
			if err := g.artifacts.Remove(entry.ArtifactPath); err != nil {
				g.logger.Warn("artifact not removed",
					zap.String("path", entry.ArtifactPath), zap.Error(err))
			}
		}
		if _, err := g.ledger.Remove(name); err != nil {
			return fmt.Errorf("removing ledger entry %s: %w", name, err)
		}
	}

	g.logger.Warn("knowledge base wiped")
	span.SetStatus(codes.Ok, "success")
	return nil
}
