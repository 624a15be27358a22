package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/extract"
	"github.com/fyrsmithlabs/repograph/internal/fetch"
	"github.com/fyrsmithlabs/repograph/internal/knowledge"
	"github.com/fyrsmithlabs/repograph/internal/ledger"
	"github.com/fyrsmithlabs/repograph/internal/vectorstore"
)

// memStore is an in-memory knowledge.VectorStore for handler tests.
type memStore struct {
	docs map[string][]vectorstore.Record
}

func (m *memStore) AddDocuments(ctx context.Context, repoName string, records []vectorstore.Record) (int, error) {
	m.docs[repoName] = append(m.docs[repoName], records...)
	return len(records), nil
}

func (m *memStore) Search(ctx context.Context, query string, limit int, repoFilter string) ([]vectorstore.ScoredDocument, error) {
	var out []vectorstore.ScoredDocument
	for repo, records := range m.docs {
		if repoFilter != "" && repo != repoFilter {
			continue
		}
		for _, r := range records {
			out = append(out, vectorstore.ScoredDocument{
				Document: vectorstore.Document{RepoName: repo, Path: r.Path, Content: r.Content, Extension: r.Extension},
				Score:    0.8,
			})
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (m *memStore) DeleteRepository(ctx context.Context, repoName string) error {
	delete(m.docs, repoName)
	return nil
}

func (m *memStore) Wipe(ctx context.Context) error {
	m.docs = make(map[string][]vectorstore.Record)
	return nil
}

func (m *memStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	total := 0
	for _, r := range m.docs {
		total += len(r)
	}
	return vectorstore.Stats{Backend: "mem", TotalDocuments: total, VectorDimension: 3, DistanceMetric: "cosine"}, nil
}

type localFetcher struct{}

func (localFetcher) Materialize(ctx context.Context, source string) (fetch.Checkout, error) {
	if _, err := os.Stat(source); err != nil {
		return fetch.Checkout{}, err
	}
	return fetch.Checkout{Name: filepath.Base(source), Path: source}, nil
}

type stubExtractor struct {
	files map[string][]extract.FileRecord
}

func (s *stubExtractor) Extract(ctx context.Context, root string) ([]extract.FileRecord, extract.RepositoryMetadata, error) {
	files := s.files[root]
	return files, extract.RepositoryMetadata{
		Name:          filepath.Base(root),
		LastIndexedAt: time.Now().UTC(),
		FileCount:     len(files),
		Languages:     map[string]int{".go": len(files)},
	}, nil
}

type serverFixture struct {
	server    *Server
	extractor *stubExtractor
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	led, err := ledger.New(t.TempDir(), nil)
	require.NoError(t, err)
	artifacts, err := ledger.NewArtifactStore(t.TempDir(), nil)
	require.NoError(t, err)

	extractor := &stubExtractor{files: make(map[string][]extract.FileRecord)}
	graph := knowledge.NewGraph(
		&memStore{docs: make(map[string][]vectorstore.Record)},
		localFetcher{}, extractor, led, artifacts, t.TempDir(), nil)

	server, err := NewServer(graph, zap.NewNop(), nil)
	require.NoError(t, err)

	return &serverFixture{server: server, extractor: extractor}
}

func (fx *serverFixture) addRepo(t *testing.T) (dir, name string) {
	t.Helper()
	dir = t.TempDir()
	fx.extractor.files[dir] = []extract.FileRecord{
		{Path: "main.go", Content: "package main", Extension: ".go", SizeBytes: 12},
	}

	rec := fx.request(t, http.MethodPost, "/api/v1/repos", `{"source":"`+dir+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return dir, filepath.Base(dir)
}

func (fx *serverFixture) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	fx.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	fx := newServerFixture(t)
	rec := fx.request(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAddRepo(t *testing.T) {
	fx := newServerFixture(t)
	_, name := fx.addRepo(t)

	rec := fx.request(t, http.MethodGet, "/api/v1/repos", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []knowledge.RepositoryInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, name, infos[0].Name)
	assert.Equal(t, 1, infos[0].FilesProcessed)
}

func TestAddRepo_CustomName(t *testing.T) {
	fx := newServerFixture(t)
	dir := t.TempDir()
	fx.extractor.files[dir] = []extract.FileRecord{
		{Path: "main.go", Content: "package main", Extension: ".go", SizeBytes: 12},
	}

	rec := fx.request(t, http.MethodPost, "/api/v1/repos",
		`{"source":"`+dir+`","name":"billing"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result knowledge.AddResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "billing", result.Name)

	rec = fx.request(t, http.MethodGet, "/api/v1/repos", "")
	var infos []knowledge.RepositoryInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "billing", infos[0].Name)
}

func TestAddRepo_Validation(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.request(t, http.MethodPost, "/api/v1/repos", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.request(t, http.MethodPost, "/api/v1/repos", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddRepo_EmptyTreeRejected(t *testing.T) {
	fx := newServerFixture(t)
	dir := t.TempDir() // extractor yields no files for it

	rec := fx.request(t, http.MethodPost, "/api/v1/repos", `{"source":"`+dir+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRemoveRepo(t *testing.T) {
	fx := newServerFixture(t)
	_, name := fx.addRepo(t)

	rec := fx.request(t, http.MethodDelete, "/api/v1/repos/"+name, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RemoveRepoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Removed)

	// Unknown repositories are a 404, not an error payload.
	rec = fx.request(t, http.MethodDelete, "/api/v1/repos/"+name, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRepo(t *testing.T) {
	fx := newServerFixture(t)
	_, name := fx.addRepo(t)

	rec := fx.request(t, http.MethodPost, "/api/v1/repos/"+name+"/update", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = fx.request(t, http.MethodPost, "/api/v1/repos/unknown/update", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	fx := newServerFixture(t)
	_, name := fx.addRepo(t)

	rec := fx.request(t, http.MethodGet, "/api/v1/search?q=main", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var hits []SearchHit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, name, hits[0].RepoName)
	assert.Equal(t, "main.go", hits[0].Path)
	assert.Equal(t, "package main", hits[0].Content)
}

func TestSearch_Validation(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.request(t, http.MethodGet, "/api/v1/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing q")

	rec = fx.request(t, http.MethodGet, "/api/v1/search?q=x&limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "non-numeric limit")

	rec = fx.request(t, http.MethodGet, "/api/v1/search?q=x&limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "negative limit")
}

func TestSearchContext(t *testing.T) {
	fx := newServerFixture(t)
	fx.addRepo(t)

	rec := fx.request(t, http.MethodGet, "/api/v1/search/context?q=main&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var groups []knowledge.RepositoryGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.InDelta(t, 0.8, groups[0].MeanScore, 1e-6)
}

func TestStatsEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	fx.addRepo(t)

	rec := fx.request(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report knowledge.StatsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalFiles)
	require.NotNil(t, report.VectorStore)
	assert.Equal(t, "mem", report.VectorStore.Backend)
}

func TestWipeEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	fx.addRepo(t)

	rec := fx.request(t, http.MethodPost, "/api/v1/wipe", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.request(t, http.MethodGet, "/api/v1/repos", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}
