package extract

import "time"

// FileRecord is one indexable file produced by an extraction pass.
// Records are immutable once produced; Path is unique within a pass.
type FileRecord struct {
	// Path is the repo-relative path using forward slashes.
	Path string `json:"path"`
	// Content is the decoded text content.
	Content string `json:"content"`
	// Extension is the file extension including the dot.
	Extension string `json:"extension"`
	// SizeBytes is the on-disk size.
	SizeBytes int64 `json:"size_bytes"`
	// ModifiedAt is the file's last modification time.
	ModifiedAt time.Time `json:"modified_at"`
	// ContentHash is the MD5 hash of the raw file bytes, used for change
	// detection.
	ContentHash string `json:"content_hash"`
}

// RepositoryMetadata aggregates one extraction pass. It is recomputed
// wholesale on every pass, never merged incrementally.
type RepositoryMetadata struct {
	Name          string         `json:"name"`
	Origin        string         `json:"origin"`
	LastIndexedAt time.Time      `json:"last_indexed_at"`
	FileCount     int            `json:"file_count"`
	Languages     map[string]int `json:"languages"`
	SizeMB        float64        `json:"size_mb"`
}
