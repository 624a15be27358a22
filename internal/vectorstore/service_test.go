package vectorstore

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder produces fixed-dimension vectors and records every call.
type fakeEmbedder struct {
	dim   int
	calls [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32((len(text)+i+j)%7) / 7
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// fakeBackend is an in-memory Backend recording mutations.
type fakeBackend struct {
	dim       int
	docs      map[string]Document
	recreated int
}

func newFakeBackend(dim int) *fakeBackend {
	return &fakeBackend{dim: dim, docs: make(map[string]Document)}
}

func (f *fakeBackend) Kind() string   { return "fake" }
func (f *fakeBackend) Metric() string { return "cosine" }

func (f *fakeBackend) Dimension(ctx context.Context) (int, error) { return f.dim, nil }

func (f *fakeBackend) Create(ctx context.Context, dim int) error {
	f.dim = dim
	return nil
}

func (f *fakeBackend) Recreate(ctx context.Context, dim int) error {
	f.dim = dim
	f.docs = make(map[string]Document)
	f.recreated++
	return nil
}

func (f *fakeBackend) Upsert(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		f.docs[doc.ID] = doc
	}
	return nil
}

func (f *fakeBackend) Query(ctx context.Context, vector []float32, limit int, repoFilter string) ([]ScoredDocument, error) {
	var out []ScoredDocument
	for _, doc := range f.docs {
		if repoFilter != "" && doc.RepoName != repoFilter {
			continue
		}
		out = append(out, ScoredDocument{Document: doc, Score: 0.5})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBackend) DeleteRepository(ctx context.Context, repoName string) error {
	for id, doc := range f.docs {
		if doc.RepoName == repoName {
			delete(f.docs, id)
		}
	}
	return nil
}

func (f *fakeBackend) Count(ctx context.Context) (int, error) { return len(f.docs), nil }
func (f *fakeBackend) Close() error                           { return nil }

func TestNewService_CreatesMissingCollection(t *testing.T) {
	backend := newFakeBackend(0)
	embedder := &fakeEmbedder{dim: 8}

	svc, err := NewService(backend, embedder, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, backend.dim)
	assert.Equal(t, 0, backend.recreated)
	assert.Equal(t, 8, svc.dim)

	// Startup probes exactly once.
	require.Len(t, embedder.calls, 1)
	assert.Equal(t, []string{"test"}, embedder.calls[0])
}

func TestNewService_RecreatesOnDimensionMismatch(t *testing.T) {
	backend := newFakeBackend(384)
	backend.docs["stale"] = Document{ID: "stale", RepoName: "old"}
	embedder := &fakeEmbedder{dim: 768}

	_, err := NewService(backend, embedder, nil)
	require.NoError(t, err)

	assert.Equal(t, 768, backend.dim)
	assert.Equal(t, 1, backend.recreated)
	assert.Empty(t, backend.docs)
}

func TestNewService_KeepsMatchingCollection(t *testing.T) {
	backend := newFakeBackend(8)
	backend.docs["keep"] = Document{ID: "keep"}

	_, err := NewService(backend, &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, backend.recreated)
	assert.Len(t, backend.docs, 1)
}

func TestAddDocuments_EmptyBatchSkipsProvider(t *testing.T) {
	backend := newFakeBackend(8)
	embedder := &fakeEmbedder{dim: 8}
	svc, err := NewService(backend, embedder, nil)
	require.NoError(t, err)

	probeCalls := len(embedder.calls)

	n, err := svc.AddDocuments(context.Background(), "empty-repo", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, embedder.calls, probeCalls, "empty batch must not call the provider")
}

func TestAddDocuments_ComposesEmbedText(t *testing.T) {
	backend := newFakeBackend(8)
	embedder := &fakeEmbedder{dim: 8}
	svc, err := NewService(backend, embedder, nil)
	require.NoError(t, err)

	records := []Record{
		{Path: "src/main.go", Content: "package main", Extension: ".go"},
		{Path: "README.md", Content: "# Hello", Extension: ".md"},
	}
	n, err := svc.AddDocuments(context.Background(), "demo", records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	last := embedder.calls[len(embedder.calls)-1]
	require.Len(t, last, 2)
	assert.Equal(t, "File: src/main.go\n\nContent:\npackage main", last[0])
	assert.Equal(t, "File: README.md\n\nContent:\n# Hello", last[1])

	require.Len(t, backend.docs, 2)
	for _, doc := range backend.docs {
		assert.NotEmpty(t, doc.ID)
		assert.Equal(t, "demo", doc.RepoName)
		assert.False(t, doc.IndexedAt.IsZero())
		assert.Len(t, doc.Vector, 8)
	}
}

func TestAddDocuments_UniqueIDs(t *testing.T) {
	backend := newFakeBackend(8)
	svc, err := NewService(backend, &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	records := []Record{
		{Path: "a.go", Content: "a"},
		{Path: "b.go", Content: "b"},
		{Path: "c.go", Content: "c"},
	}
	_, err = svc.AddDocuments(context.Background(), "demo", records)
	require.NoError(t, err)

	assert.Len(t, backend.docs, 3, "every record gets a distinct ID")
}

func TestSearch_Validation(t *testing.T) {
	svc, err := NewService(newFakeBackend(8), &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), "", 5, "")
	assert.Error(t, err)

	_, err = svc.Search(context.Background(), "query", 0, "")
	assert.Error(t, err)
}

func TestSearch_FiltersByRepo(t *testing.T) {
	backend := newFakeBackend(8)
	svc, err := NewService(backend, &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	_, err = svc.AddDocuments(context.Background(), "alpha", []Record{{Path: "a.go", Content: "a"}})
	require.NoError(t, err)
	_, err = svc.AddDocuments(context.Background(), "beta", []Record{{Path: "b.go", Content: "b"}})
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), "query", 10, "alpha")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].RepoName)

	all, err := svc.Search(context.Background(), "query", 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteRepository_UnknownIsNoError(t *testing.T) {
	svc, err := NewService(newFakeBackend(8), &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	assert.NoError(t, svc.DeleteRepository(context.Background(), "never-indexed"))
}

func TestWipe(t *testing.T) {
	backend := newFakeBackend(8)
	svc, err := NewService(backend, &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	_, err = svc.AddDocuments(context.Background(), "demo", []Record{{Path: "a.go", Content: "a"}})
	require.NoError(t, err)

	require.NoError(t, svc.Wipe(context.Background()))
	assert.Empty(t, backend.docs)
	assert.Equal(t, 8, backend.dim, "wipe keeps the current dimension")
}

func TestStats(t *testing.T) {
	backend := newFakeBackend(8)
	svc, err := NewService(backend, &fakeEmbedder{dim: 8}, nil)
	require.NoError(t, err)

	_, err = svc.AddDocuments(context.Background(), "demo", []Record{
		{Path: "a.go", Content: "a"},
		{Path: "b.go", Content: "b"},
	})
	require.NoError(t, err)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Backend:         "fake",
		TotalDocuments:  2,
		VectorDimension: 8,
		DistanceMetric:  "cosine",
	}, stats)
}

func TestComposeEmbedText(t *testing.T) {
	text := composeEmbedText("dir/file.py", "print('x')")
	assert.True(t, strings.HasPrefix(text, "File: dir/file.py\n"))
	assert.True(t, strings.HasSuffix(text, "Content:\nprint('x')"))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("repo_knowledge"))
	assert.Error(t, ValidateCollectionName(""))
	assert.Error(t, ValidateCollectionName("Bad-Name"))
	assert.Error(t, ValidateCollectionName("../traversal"))
	assert.Error(t, ValidateCollectionName(strings.Repeat("a", 65)))
}

func docWithVector(id, repo, path string, vec []float32) Document {
	return Document{
		ID:        id,
		Vector:    vec,
		RepoName:  repo,
		Path:      path,
		Content:   "content of " + path,
		Extension: ".go",
		IndexedAt: time.Now().UTC(),
	}
}
