package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteBackend stores vectors in a SQLite database using the
// sqlite-vec extension. Documents live in an ordinary table; embeddings
// live in a vec0 virtual table joined by rowid.
//
// vec0 KNN returns L2 distance; Query converts it to similarity via
// 1/(1+distance).
type SQLiteBackend struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteBackend opens or creates the database at path and prepares
// the document table. The vec0 table is created lazily by Create, once
// the vector dimension is known.
func NewSQLiteBackend(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("sqlite backend initialized", zap.String("path", path))

	return &SQLiteBackend{db: db, path: path, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT NOT NULL UNIQUE,
			repo_name TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			extension TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			modified_at TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			indexed_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_repo ON documents(repo_name);
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// Kind returns "sqlite".
func (b *SQLiteBackend) Kind() string { return "sqlite" }

// Metric returns "l2".
func (b *SQLiteBackend) Metric() string { return "l2" }

// Dimension returns the configured vector dimension, 0 if unset.
func (b *SQLiteBackend) Dimension(ctx context.Context) (int, error) {
	var value string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'dimension'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing dimension %q: %w", value, err)
	}
	return dim, nil
}

// Create creates the vec0 table with the given dimension. The vec0
// schema fixes the dimension at creation time.
func (b *SQLiteBackend) Create(ctx context.Context, dim int) error {
	query := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_documents USING vec0(embedding float[%d])", dim)
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("creating vec table: %w", err)
	}
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('dimension', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("recording dimension: %w", err)
	}
	return nil
}

// Recreate drops all documents and the vec table, then creates the vec
// table with the new dimension.
func (b *SQLiteBackend) Recreate(ctx context.Context, dim int) error {
	if _, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS vec_documents"); err != nil {
		return fmt.Errorf("dropping vec table: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	return b.Create(ctx, dim)
}

// Upsert inserts or replaces documents by ID.
func (b *SQLiteBackend) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	docStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, repo_name, path, content, extension, size_bytes, modified_at, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer docStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_documents (rowid, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for _, doc := range docs {
		// Replace semantics: clear any prior row with this ID so the
		// vec rowid stays paired with the document rowid.
		if err := b.deleteByID(ctx, tx, doc.ID); err != nil {
			return err
		}

		res, err := docStmt.ExecContext(ctx,
			doc.ID, doc.RepoName, doc.Path, doc.Content, doc.Extension,
			doc.SizeBytes,
			doc.ModifiedAt.UTC().Format(time.RFC3339),
			doc.ContentHash,
			doc.IndexedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}

		blob, err := sqlite_vec.SerializeFloat32(doc.Vector)
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", doc.ID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, rowid, blob); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) deleteByID(ctx context.Context, tx *sql.Tx, id string) error {
	var rowid int64
	err := tx.QueryRowContext(ctx, "SELECT rowid FROM documents WHERE id = ?", id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_documents WHERE rowid = ?", rowid); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM documents WHERE rowid = ?", rowid)
	return err
}

// Query runs a KNN search over the vec0 table.
//
// vec0 cannot push payload filters into the KNN scan, so a filtered
// query widens k to the full document count and filters the join.
func (b *SQLiteBackend) Query(ctx context.Context, vector []float32, limit int, repoFilter string) ([]ScoredDocument, error) {
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	k := limit
	if repoFilter != "" {
		total, err := b.Count(ctx)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			return nil, nil
		}
		k = total
	}

	query := `
		SELECT d.id, d.repo_name, d.path, d.content, d.extension, d.size_bytes,
		       d.modified_at, d.content_hash, d.indexed_at, v.distance
		FROM (
			SELECT rowid, distance FROM vec_documents
			WHERE embedding MATCH ?
			ORDER BY distance
			LIMIT ?
		) v
		JOIN documents d ON d.rowid = v.rowid
	`
	args := []any{blob, k}
	if repoFilter != "" {
		query += " WHERE d.repo_name = ?"
		args = append(args, repoFilter)
	}
	query += " ORDER BY v.distance LIMIT ?"
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var results []ScoredDocument
	for rows.Next() {
		var (
			doc        Document
			modifiedAt string
			indexedAt  string
			distance   float64
		)
		err := rows.Scan(&doc.ID, &doc.RepoName, &doc.Path, &doc.Content, &doc.Extension,
			&doc.SizeBytes, &modifiedAt, &doc.ContentHash, &indexedAt, &distance)
		if err != nil {
			return nil, err
		}
		doc.ModifiedAt, _ = time.Parse(time.RFC3339, modifiedAt)
		doc.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
		results = append(results, ScoredDocument{
			Document: doc,
			Score:    float32(1.0 / (1.0 + distance)),
		})
	}
	return results, rows.Err()
}

// DeleteRepository removes all documents of one repository.
func (b *SQLiteBackend) DeleteRepository(ctx context.Context, repoName string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM vec_documents WHERE rowid IN (SELECT rowid FROM documents WHERE repo_name = ?)",
		repoName)
	if err != nil {
		return fmt.Errorf("deleting embeddings for %s: %w", repoName, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE repo_name = ?", repoName); err != nil {
		return fmt.Errorf("deleting documents for %s: %w", repoName, err)
	}
	return tx.Commit()
}

// Count returns the total number of stored documents.
func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
