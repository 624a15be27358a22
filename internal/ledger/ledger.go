// Package ledger tracks which repositories have been indexed and where
// their extraction artifacts live.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ledgerFile is the ledger's on-disk name inside the data directory.
const ledgerFile = "processed_repos.json"

// Entry records one indexed repository.
type Entry struct {
	// Source is the original add argument: a local path or a remote URL.
	Source string `json:"source"`
	// IsRemote is true when Source is a URL that was cloned.
	IsRemote bool `json:"is_remote"`
	// ProcessedAt is when the repository was last indexed.
	ProcessedAt time.Time `json:"processed_at"`
	// FilesProcessed is the record count of the last indexing pass.
	FilesProcessed int `json:"files_processed"`
	// ArtifactPath points at the extraction artifact of the last pass.
	ArtifactPath string `json:"artifact_path"`
	// RepoPath is the local tree that was extracted (the clone path for
	// remote sources).
	RepoPath string `json:"repo_path"`
}

// Ledger is a persistent map of repository name to Entry.
//
// The file is rewritten wholesale on every mutation via a temp file and
// rename. A corrupt or missing file is not fatal: the ledger starts
// empty and the next commit rewrites it.
type Ledger struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

// New opens the ledger stored under dataDir.
func New(dataDir string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	l := &Ledger{
		path:    filepath.Join(dataDir, ledgerFile),
		logger:  logger,
		entries: make(map[string]Entry),
	}
	l.load()
	return l, nil
}

// load reads the ledger file. Unreadable or corrupt content leaves the
// ledger empty.
func (l *Ledger) load() {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		l.logger.Warn("ledger unreadable, starting empty", zap.String("path", l.path), zap.Error(err))
		return
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		l.logger.Warn("ledger corrupt, starting empty", zap.String("path", l.path), zap.Error(err))
		return
	}
	l.entries = entries
	l.logger.Debug("ledger loaded", zap.Int("repositories", len(entries)))
}

// save rewrites the ledger atomically. Caller holds l.mu.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// Get returns the entry for name.
func (l *Ledger) Get(name string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[name]
	return entry, ok
}

// List returns a copy of all entries keyed by repository name.
func (l *Ledger) List() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.entries))
	for name, entry := range l.entries {
		out[name] = entry
	}
	return out
}

// Commit records an entry and persists the ledger. An existing entry
// for the same name is overwritten.
func (l *Ledger) Commit(name string, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = entry
	return l.save()
}

// Remove deletes an entry and persists the ledger. Returns false when
// the name was not present; that is not an error.
func (l *Ledger) Remove(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[name]; !ok {
		return false, nil
	}
	delete(l.entries, name)
	if err := l.save(); err != nil {
		return false, err
	}
	return true, nil
}
