package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/extract"
)

// Artifact is the on-disk snapshot of one extraction pass. It is the
// source of record for re-indexing and statistics; the vector store can
// always be rebuilt from artifacts.
type Artifact struct {
	Metadata extract.RepositoryMetadata `json:"metadata"`
	Files    []extract.FileRecord       `json:"files"`
}

// ArtifactStore writes and reads extraction artifacts under one
// directory. File names are {repo}_{yyyymmdd_hhmmss}.json, so repeated
// passes over the same repository keep distinct artifacts.
type ArtifactStore struct {
	dir    string
	logger *zap.Logger
}

// NewArtifactStore creates the artifact directory if needed.
func NewArtifactStore(dir string, logger *zap.Logger) (*ArtifactStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &ArtifactStore{dir: dir, logger: logger}, nil
}

// Write stores an artifact and returns its path.
func (s *ArtifactStore) Write(repoName string, artifact Artifact) (string, error) {
	name := fmt.Sprintf("%s_%s.json", repoName, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}

	s.logger.Debug("artifact written",
		zap.String("repo", repoName),
		zap.String("path", path),
		zap.Int("files", len(artifact.Files)))

	return path, nil
}

// Read loads an artifact by path.
func (s *ArtifactStore) Read(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("reading artifact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	return artifact, nil
}

// Remove deletes an artifact. A missing file is not an error.
func (s *ArtifactStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}
