// Package sqlitevec implements VectorStore using sqlite-vec for vector search
// and FTS5 for BM25 full-text search.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once
)

// SchemaVersion is incremented when schema changes require reindexing.
const SchemaVersion = 1

// metaKeyDimensions is the metadata key holding the embedding dimension
// the vector tables were created with. Read back on Init so a reopened
// store keeps serving its persisted vectors.
const metaKeyDimensions = "embedding_dimensions"

// Store implements the VectorStore interface using sqlite-vec.
type Store struct {
	db         *sql.DB
	path       string
	dimensions int
	configDims int
	enableFTS  bool
}

// New creates a new sqlite-vec store. A non-zero dimension pre-creates
// the vector tables; otherwise they are created lazily from the first
// embedding seen or recovered from store metadata on reopen.
func New(config provider.VectorStoreConfig) *Store {
	return &Store{
		enableFTS:  true,
		configDims: config.Dimension,
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return "sqlitevec"
}

// Init initializes the store at the given path.
func (s *Store) Init(path string) error {
	s.path = path

	// Register sqlite-vec extension before opening any database connection.
	// This must be called once before sql.Open() to ensure vec_* functions are available.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory: %v", types.ErrStoreUnavailable, err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("%w: open database: %v", types.ErrStoreUnavailable, err)
	}
	s.db = db

	// Enable sqlite-vec extension
	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		return fmt.Errorf("%w: sqlite-vec extension not available: %v", types.ErrStoreUnavailable, err)
	}

	if err := s.createSchema(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Recover the dimension the existing vector tables were created
	// with, then apply any configured dimension on top. An actual
	// change drops the tables; a restart with the same dimension keeps
	// every persisted vector.
	stored, err := s.getMetaInt(metaKeyDimensions)
	if err != nil {
		return err
	}
	if stored > 0 {
		if err := s.createVectorTables(stored); err != nil {
			return err
		}
	}
	if s.configDims > 0 {
		if err := s.createVectorTables(s.configDims); err != nil {
			return err
		}
	}

	// Check FTS health and auto-repair if corrupted
	if err := s.CheckFTSHealth(); err != nil {
		slog.Warn("FTS index unhealthy, rebuilding", "error", err)
		if rebuildErr := s.RebuildFTS(); rebuildErr != nil {
			slog.Error("failed to rebuild FTS index", "error", rebuildErr)
			// Continue anyway - search will work without FTS
		} else {
			slog.Info("FTS index rebuilt successfully")
		}
	}

	return nil
}

// createSchema creates all necessary tables.
func (s *Store) createSchema() error {
	// Metadata table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Chunks table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			repository_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			language TEXT NOT NULL,
			unit_kind TEXT NOT NULL,
			name TEXT,
			parent_name TEXT,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			content TEXT NOT NULL,
			signature TEXT,
			docstring TEXT,
			imports TEXT NOT NULL DEFAULT '[]',
			symbols TEXT NOT NULL DEFAULT '[]',
			indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Index on (repository_id, file_path) for per-file deletion
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_repo_file ON chunks(repository_id, file_path)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_name ON chunks(name)`)
	if err != nil {
		return err
	}

	// FTS5 for BM25 search. mattn/go-sqlite3 only compiles the fts5
	// module behind the sqlite_fts5 build tag; without it the keyword
	// lane degrades to empty results instead of killing the store.
	if s.enableFTS {
		_, err = s.db.Exec(`
			CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
				id,
				content,
				name,
				docstring,
				content='chunks',
				content_rowid='rowid',
				tokenize='porter unicode61'
			)
		`)
		if err != nil {
			slog.Warn("FTS5 unavailable, keyword search disabled", "error", err)
			s.enableFTS = false
		}
	}

	if s.enableFTS {
		// Triggers to keep FTS in sync
		_, err = s.db.Exec(`
			CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
				INSERT INTO chunks_fts(rowid, id, content, name, docstring)
				VALUES (new.rowid, new.id, new.content, new.name, new.docstring);
			END
		`)
		if err != nil {
			return err
		}

		_, err = s.db.Exec(`
			CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, id, content, name, docstring)
				VALUES('delete', old.rowid, old.id, old.content, old.name, old.docstring);
			END
		`)
		if err != nil {
			return err
		}

		_, err = s.db.Exec(`
			CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, id, content, name, docstring)
				VALUES('delete', old.rowid, old.id, old.content, old.name, old.docstring);
				INSERT INTO chunks_fts(rowid, id, content, name, docstring)
				VALUES (new.rowid, new.id, new.content, new.name, new.docstring);
			END
		`)
		if err != nil {
			return err
		}
	}

	// Analysis history table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			issue_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			description TEXT,
			status TEXT,
			priority TEXT,
			findings TEXT NOT NULL DEFAULT '[]',
			logged_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_issue ON history(issue_id)`)
	if err != nil {
		return err
	}

	// Fingerprints table for incremental indexing
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fingerprints (
			repository_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_ids TEXT NOT NULL DEFAULT '[]',
			indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (repository_id, file_path)
		)
	`)
	if err != nil {
		return err
	}

	return nil
}

// createVectorTables creates the vec0 tables with the given dimensions.
// A dimension different from the one recorded in metadata invalidates
// every stored vector, so only then are the tables dropped.
func (s *Store) createVectorTables(dimensions int) error {
	if s.dimensions == dimensions {
		return nil // Already created
	}

	stored, err := s.getMetaInt(metaKeyDimensions)
	if err != nil {
		return err
	}
	if stored > 0 && stored != dimensions {
		slog.Warn("embedding dimension changed, dropping stored vectors",
			"old", stored, "new", dimensions)
		_, _ = s.db.Exec("DROP TABLE IF EXISTS chunk_embeddings")
		_, _ = s.db.Exec("DROP TABLE IF EXISTS history_embeddings")
	}

	_, err = s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create chunk vector table: %w", err)
	}

	_, err = s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS history_embeddings USING vec0(
			entry_id TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create history vector table: %w", err)
	}

	if err := s.setMeta(metaKeyDimensions, strconv.Itoa(dimensions)); err != nil {
		return err
	}
	s.dimensions = dimensions

	return nil
}

// getMetaInt reads an integer metadata value, 0 when unset.
func (s *Store) getMetaInt(key string) (int, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt metadata %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	return err
}

// Close releases resources and closes connections.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertChunks stores chunks with their embeddings in one transaction.
func (s *Store) UpsertChunks(ctx context.Context, chunks []*types.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Ensure vector tables are created with correct dimensions
	if len(chunks[0].Embedding) > 0 {
		if err := s.createVectorTables(len(chunks[0].Embedding)); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", types.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	chunkStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO chunks
		(id, repository_id, file_path, language, unit_kind, name, parent_name,
		 start_line, end_line, content, signature, docstring, imports, symbols, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	for _, ec := range chunks {
		c := ec.Chunk

		imports, err := json.Marshal(stringsOrEmpty(c.Imports))
		if err != nil {
			return err
		}
		symbols, err := json.Marshal(stringsOrEmpty(c.Symbols))
		if err != nil {
			return err
		}

		indexedAt := c.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now().UTC()
		}

		_, err = chunkStmt.Exec(
			c.ID, c.RepositoryID, c.FilePath, c.Language, string(c.UnitKind),
			c.Name, c.ParentName, c.StartLine, c.EndLine,
			c.Content, c.Signature, c.Docstring, string(imports), string(symbols), indexedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}

		if len(ec.Embedding) > 0 {
			embBytes := floatsToBytes(ec.Embedding)
			// vec0 has no INSERT OR REPLACE; delete then insert.
			if _, err := tx.Exec("DELETE FROM chunk_embeddings WHERE chunk_id = ?", c.ID); err != nil {
				return err
			}
			if _, err := tx.Exec("INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)", c.ID, embBytes); err != nil {
				return fmt.Errorf("failed to store embedding for %s: %w", c.ID, err)
			}
		}
	}

	return tx.Commit()
}

// DeleteChunks removes chunks and their embeddings by ID.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", types.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if s.dimensions > 0 {
			if _, err := tx.Exec("DELETE FROM chunk_embeddings WHERE chunk_id = ?", id); err != nil {
				return err
			}
		}
		// FTS is updated by trigger
		if _, err := tx.Exec("DELETE FROM chunks WHERE id = ?", id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const chunkColumns = `id, repository_id, file_path, language, unit_kind, name, parent_name,
	start_line, end_line, content, signature, docstring, imports, symbols, indexed_at`

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE id = ?
	`, id)

	chunk, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// SearchChunks performs vector similarity search over chunk embeddings.
// Results are sorted best first; ties go to the most recently indexed.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, k int, filters *types.ChunkFilters) ([]*types.ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query vector is required for vector search")
	}
	if s.dimensions == 0 {
		return nil, nil // Nothing indexed yet
	}

	embBytes := floatsToBytes(embedding)

	query := `
		SELECT
			vec_distance_cosine(ce.embedding, ?) as distance,
			c.id, c.repository_id, c.file_path, c.language, c.unit_kind, c.name, c.parent_name,
			c.start_line, c.end_line, c.content, c.signature, c.docstring, c.imports, c.symbols, c.indexed_at
		FROM chunk_embeddings ce
		JOIN chunks c ON ce.chunk_id = c.id
	`

	args := []any{embBytes}

	where, filterArgs := buildFilterClauses(filters)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
		args = append(args, filterArgs...)
	}

	query += " ORDER BY distance ASC, c.indexed_at DESC LIMIT ?"
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []*types.ScoredChunk
	for rows.Next() {
		var distance float64
		chunk, err := scanChunkWithLeading(rows, &distance)
		if err != nil {
			return nil, err
		}
		results = append(results, &types.ScoredChunk{
			Chunk: chunk,
			Score: cosineScore(distance),
		})
	}

	return results, rows.Err()
}

// LookupChunksBySymbol returns chunks whose symbol list contains the
// exact identifier.
func (s *Store) LookupChunksBySymbol(ctx context.Context, symbol string, limit int, filters *types.ChunkFilters) ([]*types.Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks c
		WHERE (c.name = ? OR EXISTS (
			SELECT 1 FROM json_each(c.symbols) WHERE json_each.value = ?
		))
	`
	args := []any{symbol, symbol}

	where, filterArgs := buildFilterClauses(filters)
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
		args = append(args, filterArgs...)
	}

	query += " ORDER BY c.indexed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("symbol lookup failed: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// LookupChunksByKeyword performs BM25 full-text search over chunk
// content, names and docstrings.
func (s *Store) LookupChunksByKeyword(ctx context.Context, queryText string, limit int, filters *types.ChunkFilters) ([]*types.Chunk, error) {
	if !s.enableFTS {
		return nil, nil
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}

	query := `
		SELECT c.id, c.repository_id, c.file_path, c.language, c.unit_kind, c.name, c.parent_name,
			c.start_line, c.end_line, c.content, c.signature, c.docstring, c.imports, c.symbols, c.indexed_at
		FROM chunks_fts fts
		JOIN chunks c ON fts.id = c.id
		WHERE chunks_fts MATCH ?
	`
	args := []any{escapeFTSQuery(queryText)}

	where, filterArgs := buildFilterClauses(filters)
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
		args = append(args, filterArgs...)
	}

	query += " ORDER BY bm25(chunks_fts) LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// UpsertEntry stores an analysis entry with its embedding.
func (s *Store) UpsertEntry(ctx context.Context, entry *types.EmbeddedEntry) error {
	e := entry.Entry

	if len(entry.Embedding) > 0 {
		if err := s.createVectorTables(len(entry.Embedding)); err != nil {
			return err
		}
	}

	findings, err := json.Marshal(e.Findings)
	if err != nil {
		return err
	}

	loggedAt := e.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", types.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO history
		(id, issue_id, summary, description, status, priority, findings, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.IssueID, e.Summary, e.Description, e.Status, e.Priority, string(findings), loggedAt)
	if err != nil {
		return fmt.Errorf("failed to store history entry %s: %w", e.ID, err)
	}

	if len(entry.Embedding) > 0 {
		embBytes := floatsToBytes(entry.Embedding)
		if _, err := tx.Exec("DELETE FROM history_embeddings WHERE entry_id = ?", e.ID); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO history_embeddings (entry_id, embedding) VALUES (?, ?)", e.ID, embBytes); err != nil {
			return fmt.Errorf("failed to store embedding for entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// GetEntry retrieves an analysis entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.AnalysisEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, summary, description, status, priority, findings, logged_at
		FROM history WHERE id = ?
	`, id)

	entry, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("history entry %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SearchEntries performs vector similarity search over history entries.
func (s *Store) SearchEntries(ctx context.Context, embedding []float32, k int) ([]*types.ScoredEntry, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query vector is required for vector search")
	}
	if s.dimensions == 0 {
		return nil, nil
	}

	embBytes := floatsToBytes(embedding)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			vec_distance_cosine(he.embedding, ?) as distance,
			h.id, h.issue_id, h.summary, h.description, h.status, h.priority, h.findings, h.logged_at
		FROM history_embeddings he
		JOIN history h ON he.entry_id = h.id
		ORDER BY distance ASC, h.logged_at DESC
		LIMIT ?
	`, embBytes, k)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}
	defer rows.Close()

	var results []*types.ScoredEntry
	for rows.Next() {
		var (
			distance float64
			entry    types.AnalysisEntry
			findings string
			desc     sql.NullString
			status   sql.NullString
			priority sql.NullString
		)
		err := rows.Scan(
			&distance,
			&entry.ID, &entry.IssueID, &entry.Summary, &desc, &status, &priority, &findings, &entry.LoggedAt,
		)
		if err != nil {
			return nil, err
		}
		entry.Description = desc.String
		entry.Status = status.String
		entry.Priority = priority.String
		if err := json.Unmarshal([]byte(findings), &entry.Findings); err != nil {
			return nil, fmt.Errorf("corrupt findings for entry %s: %w", entry.ID, err)
		}
		results = append(results, &types.ScoredEntry{
			Entry: &entry,
			Score: cosineScore(distance),
		})
	}

	return results, rows.Err()
}

// GetFingerprint returns the stored fingerprint for a file.
func (s *Store) GetFingerprint(ctx context.Context, repositoryID, filePath string) (*types.FileFingerprint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repository_id, file_path, content_hash, chunk_ids, indexed_at
		FROM fingerprints WHERE repository_id = ? AND file_path = ?
	`, repositoryID, filePath)

	fp, err := scanFingerprint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fingerprint %s/%s: %w", repositoryID, filePath, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return fp, nil
}

// SetFingerprint records the fingerprint for a file.
func (s *Store) SetFingerprint(ctx context.Context, fp *types.FileFingerprint) error {
	chunkIDs, err := json.Marshal(stringsOrEmpty(fp.ChunkIDs))
	if err != nil {
		return err
	}

	indexedAt := fp.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fingerprints (repository_id, file_path, content_hash, chunk_ids, indexed_at)
		VALUES (?, ?, ?, ?, ?)
	`, fp.RepositoryID, fp.FilePath, fp.ContentHash, string(chunkIDs), indexedAt)
	return err
}

// DeleteFingerprint removes a file's fingerprint.
func (s *Store) DeleteFingerprint(ctx context.Context, repositoryID, filePath string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM fingerprints WHERE repository_id = ? AND file_path = ?
	`, repositoryID, filePath)
	return err
}

// ListFingerprints returns all fingerprints for a repository keyed by
// file path.
func (s *Store) ListFingerprints(ctx context.Context, repositoryID string) (map[string]*types.FileFingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository_id, file_path, content_hash, chunk_ids, indexed_at
		FROM fingerprints WHERE repository_id = ?
	`, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fps := make(map[string]*types.FileFingerprint)
	for rows.Next() {
		fp, err := scanFingerprint(rows.Scan)
		if err != nil {
			return nil, err
		}
		fps[fp.FilePath] = fp
	}

	return fps, rows.Err()
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{
		ByLanguage: make(map[string]int),
		ByUnitKind: make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks")
	if err := row.Scan(&stats.TotalChunks); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fingerprints")
	if err := row.Scan(&stats.IndexedFiles); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history")
	if err := row.Scan(&stats.HistoryEntries); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT language, COUNT(*) FROM chunks GROUP BY language")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByLanguage[lang] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT unit_kind, COUNT(*) FROM chunks GROUP BY unit_kind")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByUnitKind[kind] = n
	}
	rows.Close()

	row = s.db.QueryRowContext(ctx, "SELECT MAX(indexed_at) FROM fingerprints")
	var lastIndexed sql.NullTime
	_ = row.Scan(&lastIndexed)
	if lastIndexed.Valid {
		stats.LastIndexed = lastIndexed.Time
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DBSizeBytes = info.Size()
	}

	return stats, nil
}

// Helper functions

type scanFunc func(dest ...any) error

func scanChunk(scan scanFunc) (*types.Chunk, error) {
	var (
		chunk      types.Chunk
		unitKind   string
		name       sql.NullString
		parentName sql.NullString
		signature  sql.NullString
		docstring  sql.NullString
		imports    string
		symbols    string
	)

	err := scan(
		&chunk.ID, &chunk.RepositoryID, &chunk.FilePath, &chunk.Language, &unitKind,
		&name, &parentName, &chunk.StartLine, &chunk.EndLine,
		&chunk.Content, &signature, &docstring, &imports, &symbols, &chunk.IndexedAt,
	)
	if err != nil {
		return nil, err
	}

	chunk.UnitKind = types.UnitKind(unitKind)
	chunk.Name = name.String
	chunk.ParentName = parentName.String
	chunk.Signature = signature.String
	chunk.Docstring = docstring.String
	if err := json.Unmarshal([]byte(imports), &chunk.Imports); err != nil {
		return nil, fmt.Errorf("corrupt imports for chunk %s: %w", chunk.ID, err)
	}
	if err := json.Unmarshal([]byte(symbols), &chunk.Symbols); err != nil {
		return nil, fmt.Errorf("corrupt symbols for chunk %s: %w", chunk.ID, err)
	}

	return &chunk, nil
}

func scanChunkWithLeading(rows *sql.Rows, leading *float64) (*types.Chunk, error) {
	return scanChunk(func(dest ...any) error {
		return rows.Scan(append([]any{leading}, dest...)...)
	})
}

func scanChunks(rows *sql.Rows) ([]*types.Chunk, error) {
	var chunks []*types.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func scanEntry(scan scanFunc) (*types.AnalysisEntry, error) {
	var (
		entry    types.AnalysisEntry
		desc     sql.NullString
		status   sql.NullString
		priority sql.NullString
		findings string
	)

	err := scan(
		&entry.ID, &entry.IssueID, &entry.Summary, &desc, &status, &priority, &findings, &entry.LoggedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Description = desc.String
	entry.Status = status.String
	entry.Priority = priority.String
	if err := json.Unmarshal([]byte(findings), &entry.Findings); err != nil {
		return nil, fmt.Errorf("corrupt findings for entry %s: %w", entry.ID, err)
	}

	return &entry, nil
}

func scanFingerprint(scan scanFunc) (*types.FileFingerprint, error) {
	var (
		fp       types.FileFingerprint
		chunkIDs string
	)

	err := scan(&fp.RepositoryID, &fp.FilePath, &fp.ContentHash, &chunkIDs, &fp.IndexedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(chunkIDs), &fp.ChunkIDs); err != nil {
		return nil, fmt.Errorf("corrupt chunk ids for %s: %w", fp.FilePath, err)
	}

	return &fp, nil
}

// buildFilterClauses maps ChunkFilters to SQL WHERE clauses over the
// chunks table aliased as c.
func buildFilterClauses(filters *types.ChunkFilters) ([]string, []any) {
	if filters == nil {
		return nil, nil
	}

	var clauses []string
	var args []any

	if filters.RepositoryID != "" {
		clauses = append(clauses, "c.repository_id = ?")
		args = append(args, filters.RepositoryID)
	}
	if len(filters.Languages) > 0 {
		placeholders := make([]string, len(filters.Languages))
		for i, lang := range filters.Languages {
			placeholders[i] = "?"
			args = append(args, lang)
		}
		clauses = append(clauses, "c.language IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(filters.UnitKinds) > 0 {
		placeholders := make([]string, len(filters.UnitKinds))
		for i, kind := range filters.UnitKinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		clauses = append(clauses, "c.unit_kind IN ("+strings.Join(placeholders, ",")+")")
	}

	return clauses, args
}

// cosineScore converts a cosine distance to a similarity score clamped
// to [0, 1].
func cosineScore(distance float64) float32 {
	score := 1.0 - distance
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return float32(score)
}

// stringsOrEmpty normalizes nil slices so JSON columns store '[]', not
// 'null'.
func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// floatsToBytes converts float32 slice to bytes for sqlite-vec.
func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

// escapeFTSQuery escapes special characters in FTS5 query.
func escapeFTSQuery(query string) string {
	special := []string{"*", "\"", "(", ")", ":", "-", "^", "~"}
	result := query
	for _, s := range special {
		result = strings.ReplaceAll(result, s, "\""+s+"\"")
	}
	return result
}

// CheckFTSHealth verifies that the FTS index is in sync with the chunks table.
// Returns nil if healthy, error describing the issue otherwise.
func (s *Store) CheckFTSHealth() error {
	if !s.enableFTS {
		return nil
	}

	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='chunks_fts'
	`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check FTS table existence: %w", err)
	}
	if exists == 0 {
		return nil // FTS not created yet, will be created on first use
	}

	// Try a simple query that exercises the FTS JOIN
	// This will fail if there are orphaned FTS entries
	_, err = s.db.Exec(`
		SELECT c.id FROM chunks_fts fts
		JOIN chunks c ON fts.rowid = c.rowid
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("FTS index corrupted: %w", err)
	}

	return nil
}

// RebuildFTS rebuilds the FTS index from the chunks table.
// This fixes corruption issues where FTS has references to deleted rows.
func (s *Store) RebuildFTS() error {
	if !s.enableFTS {
		return nil
	}

	_, err := s.db.Exec(`INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`)
	if err != nil {
		return fmt.Errorf("failed to rebuild FTS index: %w", err)
	}

	return nil
}

// Ensure Store implements VectorStore interface
var _ provider.VectorStore = (*Store)(nil)
