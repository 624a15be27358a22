// Package extract walks repository trees and produces indexable file records.
package extract

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Options configure an Extractor.
type Options struct {
	// MaxFileSize is the per-file size cap in bytes. Files above it are
	// skipped, not truncated. Default: 2 MiB.
	MaxFileSize int64

	// Extensions is the allow-set of file extensions (including the dot).
	Extensions []string

	// IgnoreDirs are directory names skipped anywhere in the tree.
	IgnoreDirs []string
}

const defaultMaxFileSize = 2 * 1024 * 1024

// Extractor produces FileRecords and aggregate metadata from a directory.
//
// Per-file failures (oversized, undecodable, unreadable) are logged and
// skipped; they never fail the pass. A pass that yields zero records is a
// normal outcome the caller must treat as "nothing to index".
type Extractor struct {
	maxFileSize int64
	extensions  map[string]bool
	ignoreDirs  map[string]bool
	logger      *zap.Logger
}

// NewExtractor creates an Extractor with the given options.
func NewExtractor(opts Options, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}

	extensions := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		extensions[ext] = true
	}
	ignoreDirs := make(map[string]bool, len(opts.IgnoreDirs))
	for _, dir := range opts.IgnoreDirs {
		ignoreDirs[dir] = true
	}

	return &Extractor{
		maxFileSize: opts.MaxFileSize,
		extensions:  extensions,
		ignoreDirs:  ignoreDirs,
		logger:      logger,
	}
}

// Extract walks root recursively and returns the qualifying FileRecords plus
// repository-level metadata derived from them.
func (e *Extractor) Extract(ctx context.Context, root string) ([]FileRecord, RepositoryMetadata, error) {
	cleanRoot := filepath.Clean(root)
	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, RepositoryMetadata{}, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, RepositoryMetadata{}, fmt.Errorf("root must be a directory: %s", cleanRoot)
	}

	var records []FileRecord

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.logger.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != cleanRoot && e.ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !e.extensions[filepath.Ext(path)] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			e.logger.Warn("skipping file: stat failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if fi.Size() > e.maxFileSize {
			e.logger.Info("skipping large file",
				zap.String("path", path),
				zap.Int64("size_bytes", fi.Size()),
				zap.Int64("max_bytes", e.maxFileSize))
			return nil
		}

		rec, ok := e.readRecord(cleanRoot, path, fi)
		if ok {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, RepositoryMetadata{}, fmt.Errorf("walking %s: %w", cleanRoot, err)
	}

	meta := e.buildMetadata(cleanRoot, records)
	return records, meta, nil
}

// readRecord reads and decodes one file. Returns false if the file should be
// skipped.
func (e *Extractor) readRecord(root, path string, fi os.FileInfo) (FileRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.Warn("skipping file: read failed", zap.String("path", path), zap.Error(err))
		return FileRecord{}, false
	}

	content, ok := decodeContent(data)
	if !ok {
		e.logger.Warn("skipping file: no usable text encoding", zap.String("path", path))
		return FileRecord{}, false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		e.logger.Warn("skipping file: relative path failed", zap.String("path", path), zap.Error(err))
		return FileRecord{}, false
	}

	hash := md5.Sum(data)

	return FileRecord{
		Path:        filepath.ToSlash(rel),
		Content:     content,
		Extension:   filepath.Ext(path),
		SizeBytes:   fi.Size(),
		ModifiedAt:  fi.ModTime().UTC(),
		ContentHash: hex.EncodeToString(hash[:]),
	}, true
}

// buildMetadata derives repository-level metadata from one pass.
func (e *Extractor) buildMetadata(root string, records []FileRecord) RepositoryMetadata {
	languages := make(map[string]int)
	var totalSize int64
	for _, rec := range records {
		languages[rec.Extension]++
		totalSize += rec.SizeBytes
	}

	sizeMB := float64(totalSize) / (1024 * 1024)

	return RepositoryMetadata{
		Name:          filepath.Base(root),
		Origin:        originFor(root),
		LastIndexedAt: time.Now().UTC(),
		FileCount:     len(records),
		Languages:     languages,
		SizeMB:        math.Round(sizeMB*1000) / 1000,
	}
}

// originFor returns the origin remote URL when root is a git repository,
// falling back to a local: marker.
func originFor(root string) string {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return "local:" + root
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "local:" + root
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "local:" + root
	}
	return urls[0]
}
