package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagekit/triagekit/pkg/types"
)

// fakeStore is an in-memory provider.VectorStore for indexer tests.
type fakeStore struct {
	mu           sync.Mutex
	chunks       map[string]*types.EmbeddedChunk
	fingerprints map[string]*types.FileFingerprint
	entries      map[string]*types.EmbeddedEntry

	failUpsert      bool
	failFingerprint bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chunks:       make(map[string]*types.EmbeddedChunk),
		fingerprints: make(map[string]*types.FileFingerprint),
		entries:      make(map[string]*types.EmbeddedEntry),
	}
}

func fpKey(repo, path string) string { return repo + "\x00" + path }

func (s *fakeStore) Name() string          { return "fake" }
func (s *fakeStore) Init(path string) error { return nil }
func (s *fakeStore) Close() error           { return nil }

func (s *fakeStore) UpsertChunks(ctx context.Context, chunks []*types.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert {
		return fmt.Errorf("%w: fake outage", types.ErrStoreUnavailable)
	}
	for _, c := range chunks {
		s.chunks[c.Chunk.ID] = c
	}
	return nil
}

func (s *fakeStore) DeleteChunks(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.chunks, id)
	}
	return nil
}

func (s *fakeStore) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[id]; ok {
		return c.Chunk, nil
	}
	return nil, types.ErrNotFound
}

func (s *fakeStore) SearchChunks(ctx context.Context, embedding []float32, k int, filters *types.ChunkFilters) ([]*types.ScoredChunk, error) {
	return nil, nil
}

func (s *fakeStore) LookupChunksBySymbol(ctx context.Context, symbol string, limit int, filters *types.ChunkFilters) ([]*types.Chunk, error) {
	return nil, nil
}

func (s *fakeStore) LookupChunksByKeyword(ctx context.Context, query string, limit int, filters *types.ChunkFilters) ([]*types.Chunk, error) {
	return nil, nil
}

func (s *fakeStore) UpsertEntry(ctx context.Context, entry *types.EmbeddedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Entry.ID] = entry
	return nil
}

func (s *fakeStore) GetEntry(ctx context.Context, id string) (*types.AnalysisEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.Entry, nil
	}
	return nil, types.ErrNotFound
}

func (s *fakeStore) SearchEntries(ctx context.Context, embedding []float32, k int) ([]*types.ScoredEntry, error) {
	return nil, nil
}

func (s *fakeStore) GetFingerprint(ctx context.Context, repositoryID, filePath string) (*types.FileFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp, ok := s.fingerprints[fpKey(repositoryID, filePath)]; ok {
		return fp, nil
	}
	return nil, types.ErrNotFound
}

func (s *fakeStore) SetFingerprint(ctx context.Context, fp *types.FileFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFingerprint {
		return fmt.Errorf("%w: fake outage", types.ErrStoreUnavailable)
	}
	s.fingerprints[fpKey(fp.RepositoryID, fp.FilePath)] = fp
	return nil
}

func (s *fakeStore) DeleteFingerprint(ctx context.Context, repositoryID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fingerprints, fpKey(repositoryID, filePath))
	return nil
}

func (s *fakeStore) ListFingerprints(ctx context.Context, repositoryID string) (map[string]*types.FileFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*types.FileFingerprint)
	for _, fp := range s.fingerprints {
		if fp.RepositoryID == repositoryID {
			out[fp.FilePath] = fp
		}
	}
	return out, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.StoreStats{TotalChunks: len(s.chunks)}, nil
}

func (s *fakeStore) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func (s *fakeStore) hasChunk(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[id]
	return ok
}

// fakeEmbedder counts calls and can be toggled to fail.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *fakeEmbedder) Name() string      { return "fake" }
func (e *fakeEmbedder) Dimensions() int   { return 4 }
func (e *fakeEmbedder) MaxBatchSize() int { return 2 }

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, fmt.Errorf("%w: fake outage", types.ErrEmbeddingUnavailable)
	}
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) Warmup(ctx context.Context) error { return nil }
func (e *fakeEmbedder) Close() error                     { return nil }

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeChunker produces one chunk per non-blank line; fails for files
// whose path is in failPaths.
type fakeChunker struct {
	failPaths map[string]bool
}

func (c *fakeChunker) Name() string                      { return "fake" }
func (c *fakeChunker) SupportsLanguage(lang string) bool { return true }
func (c *fakeChunker) Close() error                      { return nil }

func (c *fakeChunker) Chunk(file *types.SourceFile) ([]*types.Chunk, error) {
	if c.failPaths[file.Path] {
		return nil, fmt.Errorf("%w: fake parse error", types.ErrChunkingFailed)
	}
	var chunks []*types.Chunk
	for i, line := range strings.Split(file.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		chunk := &types.Chunk{
			RepositoryID: file.RepositoryID,
			FilePath:     file.Path,
			Language:     file.Language,
			UnitKind:     types.UnitFunction,
			Name:         line,
			StartLine:    i + 1,
			EndLine:      i + 1,
			Content:      line,
		}
		chunk.ID = chunk.GenerateID()
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func sourceFile(repo, path, content string) *types.SourceFile {
	f := &types.SourceFile{
		RepositoryID: repo,
		Path:         path,
		Content:      content,
		Language:     "go",
	}
	f.Hash = f.ComputeHash()
	return f
}

func newTestIndexer(store *fakeStore, embedder *fakeEmbedder, chunker *fakeChunker) *Indexer {
	return New(Config{
		Store:     store,
		Embedding: embedder,
		Chunker:   chunker,
		Workers:   2,
	})
}

func TestSyncIndexesNewFiles(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	idx := newTestIndexer(store, embedder, &fakeChunker{})

	files := []*types.SourceFile{
		sourceFile("svc", "auth/login.go", "ValidateSession\nRefreshToken"),
		sourceFile("svc", "auth/logout.go", "EndSession"),
	}

	report, err := idx.Sync(context.Background(), "svc", files)
	require.NoError(t, err)

	assert.Equal(t, 2, report.FilesSeen)
	assert.Equal(t, 2, report.FilesIndexed)
	assert.Equal(t, 3, report.ChunksUpserted)
	assert.Equal(t, 0, report.FilesFailed)
	assert.Equal(t, 3, store.chunkCount())

	fp, err := store.GetFingerprint(context.Background(), "svc", "auth/login.go")
	require.NoError(t, err)
	assert.Len(t, fp.ChunkIDs, 2)
	assert.Equal(t, files[0].Hash, fp.ContentHash)
}

func TestFingerprintShortCircuit(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	idx := newTestIndexer(store, embedder, &fakeChunker{})

	files := []*types.SourceFile{
		sourceFile("svc", "auth/login.go", "ValidateSession"),
	}

	_, err := idx.Sync(context.Background(), "svc", files)
	require.NoError(t, err)
	callsAfterFirst := embedder.callCount()

	report, err := idx.Sync(context.Background(), "svc", files)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesUnchanged)
	assert.Equal(t, 0, report.FilesIndexed)
	assert.Equal(t, callsAfterFirst, embedder.callCount(), "unchanged file must not be re-embedded")
}

func TestChangedFileReplacesChunkSet(t *testing.T) {
	store := newFakeStore()
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})
	ctx := context.Background()

	v1 := sourceFile("svc", "auth/login.go", "ValidateSession\nRefreshToken")
	_, err := idx.Sync(ctx, "svc", []*types.SourceFile{v1})
	require.NoError(t, err)

	fpV1, err := store.GetFingerprint(ctx, "svc", "auth/login.go")
	require.NoError(t, err)

	// RefreshToken is gone, ValidateMFA is new, ValidateSession survives.
	v2 := sourceFile("svc", "auth/login.go", "ValidateSession\nValidateMFA")
	report, err := idx.Sync(ctx, "svc", []*types.SourceFile{v2})
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesIndexed)
	assert.Equal(t, 1, report.ChunksDeleted)

	fpV2, err := store.GetFingerprint(ctx, "svc", "auth/login.go")
	require.NoError(t, err)
	assert.Len(t, fpV2.ChunkIDs, 2)

	for _, id := range fpV2.ChunkIDs {
		assert.True(t, store.hasChunk(id), "current chunk %s missing", id)
	}
	for _, id := range fpV1.ChunkIDs {
		found := false
		for _, cur := range fpV2.ChunkIDs {
			if cur == id {
				found = true
			}
		}
		if !found {
			assert.False(t, store.hasChunk(id), "stale chunk %s still stored", id)
		}
	}
}

func TestRemovedFileCleanup(t *testing.T) {
	store := newFakeStore()
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})
	ctx := context.Background()

	files := []*types.SourceFile{
		sourceFile("svc", "auth/login.go", "ValidateSession"),
		sourceFile("svc", "auth/legacy.go", "OldHandler"),
	}
	_, err := idx.Sync(ctx, "svc", files)
	require.NoError(t, err)
	require.Equal(t, 2, store.chunkCount())

	report, err := idx.Sync(ctx, "svc", files[:1])
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesRemoved)
	assert.Equal(t, 1, store.chunkCount())

	_, err = store.GetFingerprint(ctx, "svc", "auth/legacy.go")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestChunkingFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	chunker := &fakeChunker{failPaths: map[string]bool{"bad.go": true}}
	idx := newTestIndexer(store, &fakeEmbedder{}, chunker)

	files := []*types.SourceFile{
		sourceFile("svc", "good.go", "Works"),
		sourceFile("svc", "bad.go", "Broken"),
	}
	report, err := idx.IndexFiles(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesIndexed)
	assert.Equal(t, 1, report.FilesFailed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "bad.go", report.Skipped[0].Path)
	assert.Contains(t, report.Skipped[0].Reason, "chunking failed")

	// The failed file must stay unfingerprinted so a later pass retries it.
	_, err = store.GetFingerprint(context.Background(), "svc", "bad.go")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEmbeddingFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{fail: true}
	idx := newTestIndexer(store, embedder, &fakeChunker{})

	files := []*types.SourceFile{sourceFile("svc", "a.go", "Alpha")}
	report, err := idx.IndexFiles(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesFailed)
	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reason, "embedding failed")
	assert.Equal(t, 0, store.chunkCount())
}

func TestStoreOutageAborts(t *testing.T) {
	store := newFakeStore()
	store.failUpsert = true
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})

	files := []*types.SourceFile{sourceFile("svc", "a.go", "Alpha")}
	_, err := idx.IndexFiles(context.Background(), files)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
}

func TestFingerprintWrittenAfterChunks(t *testing.T) {
	store := newFakeStore()
	store.failFingerprint = true
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})

	files := []*types.SourceFile{sourceFile("svc", "a.go", "Alpha")}
	_, err := idx.IndexFiles(context.Background(), files)
	require.ErrorIs(t, err, types.ErrStoreUnavailable)

	// Chunks landed but the fingerprint did not: the next pass will
	// redo the file rather than silently skip it.
	assert.Equal(t, 1, store.chunkCount())
	_, err = store.GetFingerprint(context.Background(), "svc", "a.go")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEmptyFileYieldsEmptyChunkSet(t *testing.T) {
	store := newFakeStore()
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})
	ctx := context.Background()

	v1 := sourceFile("svc", "a.go", "Alpha")
	_, err := idx.Sync(ctx, "svc", []*types.SourceFile{v1})
	require.NoError(t, err)
	require.Equal(t, 1, store.chunkCount())

	v2 := sourceFile("svc", "a.go", "")
	report, err := idx.Sync(ctx, "svc", []*types.SourceFile{v2})
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesIndexed)
	assert.Equal(t, 0, store.chunkCount())

	fp, err := store.GetFingerprint(ctx, "svc", "a.go")
	require.NoError(t, err)
	assert.Empty(t, fp.ChunkIDs)
}

func TestClearRepository(t *testing.T) {
	store := newFakeStore()
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})
	ctx := context.Background()

	_, err := idx.Sync(ctx, "svc", []*types.SourceFile{
		sourceFile("svc", "a.go", "Alpha\nBeta"),
	})
	require.NoError(t, err)
	_, err = idx.Sync(ctx, "other", []*types.SourceFile{
		sourceFile("other", "b.go", "Gamma"),
	})
	require.NoError(t, err)

	deleted, err := idx.ClearRepository(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, store.chunkCount())

	fps, err := store.ListFingerprints(ctx, "svc")
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestRemoveFiles(t *testing.T) {
	store := newFakeStore()
	idx := newTestIndexer(store, &fakeEmbedder{}, &fakeChunker{})
	ctx := context.Background()

	_, err := idx.Sync(ctx, "svc", []*types.SourceFile{
		sourceFile("svc", "a.go", "Alpha"),
	})
	require.NoError(t, err)

	removed, err := idx.RemoveFiles(ctx, "svc", []string{"a.go", "never-indexed.go"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.chunkCount())
}
