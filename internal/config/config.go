// Package config provides configuration loading for repograph.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for repograph.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Storage     StorageConfig     `koanf:"storage"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Extract     ExtractConfig     `koanf:"extract"`
	GitHub      GitHubConfig      `koanf:"github"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// StorageConfig holds local filesystem layout.
type StorageConfig struct {
	// DataDir holds the ledger file and per-pass extraction artifacts.
	DataDir string `koanf:"data_dir"`
	// ReposDir holds materialized clones of remote repositories.
	ReposDir string `koanf:"repos_dir"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	// Provider is the provider type. Currently only "ollama".
	Provider string `koanf:"provider"`
	// BaseURL is the Ollama server URL.
	BaseURL string `koanf:"base_url"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	// Provider is one of: chromem, qdrant, sqlite.
	Provider string `koanf:"provider"`
	// Collection is the collection name shared by all backends.
	Collection string        `koanf:"collection"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
	SQLite     SQLiteConfig  `koanf:"sqlite"`
}

// ChromemConfig holds settings for the embedded chromem-go backend.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds settings for the remote Qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// SQLiteConfig holds settings for the sqlite-vec backend.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// ExtractConfig holds file extraction limits and filters.
type ExtractConfig struct {
	// MaxFileSize is the per-file size cap in bytes. Larger files are skipped.
	MaxFileSize int64 `koanf:"max_file_size"`
	// Extensions is the allow-set of indexable file extensions (with dot).
	Extensions []string `koanf:"extensions"`
	// IgnoreDirs are directory names skipped anywhere in the tree.
	IgnoreDirs []string `koanf:"ignore_dirs"`
}

// GitHubConfig holds GitHub access settings for private clones.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// DefaultExtensions is the allow-set of indexable extensions.
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".jsx", ".tsx", ".php", ".java", ".cpp", ".c",
	".h", ".hpp", ".cs", ".rb", ".go", ".rs", ".swift", ".kt", ".scala",
	".md", ".txt", ".json", ".yaml", ".yml", ".xml", ".html", ".css",
	".scss", ".sass", ".less", ".sql", ".sh", ".bash", ".zsh",
}

// DefaultIgnoreDirs are directory names never descended into.
var DefaultIgnoreDirs = []string{
	".git", "node_modules", "vendor", "__pycache__", ".pytest_cache",
	"venv", "env", ".env", "dist", "build", "target", ".idea", ".vscode",
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "~/.local/share/repograph/data"
	}
	if c.Storage.ReposDir == "" {
		c.Storage.ReposDir = "~/.local/share/repograph/repos"
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "ollama"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:11434"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "chromem"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "repo_knowledge"
	}
	if c.VectorStore.Chromem.Path == "" {
		c.VectorStore.Chromem.Path = "~/.local/share/repograph/vectorstore"
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if c.VectorStore.SQLite.Path == "" {
		c.VectorStore.SQLite.Path = "~/.local/share/repograph/vectors.db"
	}
	if c.Extract.MaxFileSize == 0 {
		c.Extract.MaxFileSize = 2 * 1024 * 1024
	}
	if len(c.Extract.Extensions) == 0 {
		c.Extract.Extensions = DefaultExtensions
	}
	if len(c.Extract.IgnoreDirs) == 0 {
		c.Extract.IgnoreDirs = DefaultIgnoreDirs
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "sqlite":
	default:
		return fmt.Errorf("vectorstore: unknown provider %q (supported: chromem, qdrant, sqlite)", c.VectorStore.Provider)
	}
	if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
		return fmt.Errorf("vectorstore: invalid qdrant port %d", c.VectorStore.Qdrant.Port)
	}
	if c.Extract.MaxFileSize < 0 {
		return fmt.Errorf("extract: max_file_size must be non-negative")
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
