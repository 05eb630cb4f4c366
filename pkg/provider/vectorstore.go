package provider

import (
	"context"

	"github.com/triagekit/triagekit/pkg/types"
)

// VectorStore persists chunks, their embeddings, analysis history, and
// file fingerprints, and answers similarity and exact-match queries.
//
// A store must survive process restarts: everything written through it
// is durable once the call returns. Methods return errors wrapping
// types.ErrStoreUnavailable when the backing storage cannot be reached.
type VectorStore interface {
	// Name returns the store name (e.g., "sqlitevec").
	Name() string

	// Init opens or creates the store at the given path.
	Init(path string) error

	// Close flushes and releases the store.
	Close() error

	ChunkStore
	ChunkSearcher
	HistoryStore
	FingerprintStore

	// Stats returns store statistics.
	Stats(ctx context.Context) (*types.StoreStats, error)
}

// ChunkStore is the write/read side for code chunks.
type ChunkStore interface {
	// UpsertChunks inserts or replaces chunks and their embeddings in a
	// single transaction. A chunk whose ID already exists is replaced.
	UpsertChunks(ctx context.Context, chunks []*types.EmbeddedChunk) error

	// DeleteChunks removes chunks by ID. Unknown IDs are ignored.
	DeleteChunks(ctx context.Context, ids []string) error

	// GetChunk fetches a single chunk by ID. Returns
	// types.ErrNotFound when no such chunk exists.
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)
}

// ChunkSearcher answers retrieval queries over indexed chunks.
type ChunkSearcher interface {
	// SearchChunks returns the k nearest chunks by cosine similarity,
	// best first. Scores are in [0, 1]. Ties are broken by most
	// recently indexed.
	SearchChunks(ctx context.Context, embedding []float32, k int, filters *types.ChunkFilters) ([]*types.ScoredChunk, error)

	// LookupChunksBySymbol returns chunks whose extracted symbol list
	// contains the exact identifier.
	LookupChunksBySymbol(ctx context.Context, symbol string, limit int, filters *types.ChunkFilters) ([]*types.Chunk, error)

	// LookupChunksByKeyword returns chunks matching the query under
	// full-text search, ranked by relevance.
	LookupChunksByKeyword(ctx context.Context, query string, limit int, filters *types.ChunkFilters) ([]*types.Chunk, error)
}

// HistoryStore persists analysis log entries with embeddings.
type HistoryStore interface {
	// UpsertEntry inserts or replaces an analysis entry.
	UpsertEntry(ctx context.Context, entry *types.EmbeddedEntry) error

	// GetEntry fetches an entry by ID. Returns types.ErrNotFound when
	// no such entry exists.
	GetEntry(ctx context.Context, id string) (*types.AnalysisEntry, error)

	// SearchEntries returns the k most similar analysis entries, best
	// first, with cosine scores in [0, 1].
	SearchEntries(ctx context.Context, embedding []float32, k int) ([]*types.ScoredEntry, error)
}

// FingerprintStore tracks per-file content hashes for incremental
// indexing.
type FingerprintStore interface {
	// GetFingerprint fetches the fingerprint for a file. Returns
	// types.ErrNotFound when the file has never been indexed.
	GetFingerprint(ctx context.Context, repositoryID, filePath string) (*types.FileFingerprint, error)

	// SetFingerprint records the fingerprint for a file, replacing any
	// previous one.
	SetFingerprint(ctx context.Context, fp *types.FileFingerprint) error

	// DeleteFingerprint removes a file's fingerprint.
	DeleteFingerprint(ctx context.Context, repositoryID, filePath string) error

	// ListFingerprints returns all fingerprints for a repository,
	// keyed by file path.
	ListFingerprints(ctx context.Context, repositoryID string) (map[string]*types.FileFingerprint, error)
}

// VectorStoreConfig contains configuration for vector stores.
type VectorStoreConfig struct {
	Provider  string // "sqlitevec"
	Path      string // Database file path
	Dimension int    // Embedding dimension
}
