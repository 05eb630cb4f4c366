package sqlitevec

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

func tempDBPath(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test-store-*.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })
	tmpFile.Close()
	return tmpFile.Name()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store := New(provider.VectorStoreConfig{Dimension: 4})
	if err := store.Init(tempDBPath(t)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testChunk(id, name string, startLine int) *types.EmbeddedChunk {
	c := &types.Chunk{
		ID:           id,
		RepositoryID: "backend",
		FilePath:     "auth/session.go",
		Language:     "go",
		UnitKind:     types.UnitFunction,
		Name:         name,
		StartLine:    startLine,
		EndLine:      startLine + 10,
		Content:      "func " + name + "() error { return validateToken() }",
		Signature:    "func " + name + "() error",
		Symbols:      []string{"validateToken"},
		IndexedAt:    time.Now().UTC(),
	}
	return &types.EmbeddedChunk{
		Chunk:     c,
		Embedding: []float32{1, 0, 0, 0},
	}
}

func TestUpsertAndGetChunk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ec := testChunk("c1", "RefreshSession", 10)
	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{ec}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetChunk(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "RefreshSession" {
		t.Errorf("expected name RefreshSession, got %s", got.Name)
	}
	if got.UnitKind != types.UnitFunction {
		t.Errorf("expected unit kind function, got %s", got.UnitKind)
	}
	if len(got.Symbols) != 1 || got.Symbols[0] != "validateToken" {
		t.Errorf("symbols round trip failed: %v", got.Symbols)
	}

	// Upsert with same ID replaces
	ec.Chunk.Content = "func RefreshSession() error { return nil }"
	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{ec}); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetChunk(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.Content, "return nil") {
		t.Errorf("replace on upsert failed: %s", got.Content)
	}
}

func TestGetChunkNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetChunk(context.Background(), "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []*types.EmbeddedChunk{
		testChunk("c1", "Login", 10),
		testChunk("c2", "Logout", 30),
	}
	if err := store.UpsertChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	// Unknown IDs are ignored
	if err := store.DeleteChunks(ctx, []string{"c1", "no-such-id"}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetChunk(ctx, "c1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected c1 deleted, got %v", err)
	}
	if _, err := store.GetChunk(ctx, "c2"); err != nil {
		t.Errorf("c2 should survive: %v", err)
	}
}

func TestSearchChunksOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := testChunk("near", "HandleLogin", 10)
	near.Embedding = []float32{1, 0, 0, 0}
	far := testChunk("far", "RenderChart", 200)
	far.Embedding = []float32{0, 1, 0, 0}

	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{near, far}); err != nil {
		t.Fatal(err)
	}

	results, err := store.SearchChunks(ctx, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "near" {
		t.Errorf("expected near first, got %s", results[0].Chunk.ID)
	}
	if results[0].Score < 0.99 {
		t.Errorf("identical vector should score ~1.0, got %f", results[0].Score)
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score out of [0,1]: %f", r.Score)
		}
	}
}

func TestSearchChunksFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	goChunk := testChunk("g1", "ParseConfig", 10)
	pyChunk := testChunk("p1", "parse_config", 10)
	pyChunk.Chunk.FilePath = "config.py"
	pyChunk.Chunk.Language = "python"

	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{goChunk, pyChunk}); err != nil {
		t.Fatal(err)
	}

	results, err := store.SearchChunks(ctx, []float32{1, 0, 0, 0}, 10, &types.ChunkFilters{
		Languages: []string{"python"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "p1" {
		t.Errorf("language filter failed: %v", results)
	}

	results, err = store.SearchChunks(ctx, []float32{1, 0, 0, 0}, 10, &types.ChunkFilters{
		RepositoryID: "frontend",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("repository filter failed: %v", results)
	}
}

func TestLookupChunksBySymbol(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	caller := testChunk("c1", "HandleLogin", 10)
	caller.Chunk.Symbols = []string{"validateToken", "NewSession"}
	other := testChunk("c2", "RenderChart", 50)
	other.Chunk.Symbols = []string{"drawAxis"}

	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{caller, other}); err != nil {
		t.Fatal(err)
	}

	// Exact symbol reference match
	chunks, err := store.LookupChunksBySymbol(ctx, "validateToken", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c1" {
		t.Fatalf("expected c1 only, got %v", chunks)
	}

	// Chunk name itself matches too
	chunks, err = store.LookupChunksBySymbol(ctx, "RenderChart", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c2" {
		t.Fatalf("expected c2 by name, got %v", chunks)
	}

	// No substring matching
	chunks, err = store.LookupChunksBySymbol(ctx, "validate", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("partial symbol should not match, got %v", chunks)
	}
}

func TestLookupChunksByKeyword(t *testing.T) {
	store := newTestStore(t)
	if !store.enableFTS {
		t.Skip("FTS5 not compiled in (sqlite_fts5 build tag)")
	}
	ctx := context.Background()

	c1 := testChunk("c1", "RefreshSession", 10)
	c1.Chunk.Content = "func RefreshSession() error { // session timeout after refresh\n return nil }"
	c2 := testChunk("c2", "DrawChart", 60)
	c2.Chunk.Content = "func DrawChart(w io.Writer) { renderAxes(w) }"

	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{c1, c2}); err != nil {
		t.Fatal(err)
	}

	chunks, err := store.LookupChunksByKeyword(ctx, "session timeout", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c1" {
		t.Fatalf("keyword search failed: %v", chunks)
	}

	// Blank query returns nothing instead of erroring
	chunks, err = store.LookupChunksByKeyword(ctx, "   ", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("blank query should return nothing, got %v", chunks)
	}
}

func TestKeywordSearchWithoutFTS(t *testing.T) {
	store := New(provider.VectorStoreConfig{Dimension: 4})
	store.enableFTS = false
	if err := store.Init(tempDBPath(t)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	if err := store.UpsertChunks(ctx, []*types.EmbeddedChunk{testChunk("c1", "RefreshSession", 10)}); err != nil {
		t.Fatal(err)
	}

	// Keyword lane degrades to empty, the other lanes keep working
	chunks, err := store.LookupChunksByKeyword(ctx, "session", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no keyword results without FTS, got %v", chunks)
	}

	results, err := store.SearchChunks(ctx, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("vector search should still work, got %d results", len(results))
	}
}

func TestReopenKeepsPersistedVectors(t *testing.T) {
	path := tempDBPath(t)
	ctx := context.Background()

	first := New(provider.VectorStoreConfig{Dimension: 4})
	if err := first.Init(path); err != nil {
		t.Fatal(err)
	}
	if err := first.UpsertChunks(ctx, []*types.EmbeddedChunk{testChunk("c1", "HandleLogin", 10)}); err != nil {
		t.Fatal(err)
	}
	if err := first.UpsertEntry(ctx, &types.EmbeddedEntry{
		Entry:     &types.AnalysisEntry{ID: "e1", IssueID: "A-1", Summary: "NPE in login handler"},
		Embedding: []float32{1, 0, 0, 0},
	}); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	// A new process does not know the dimension up front; the store
	// recovers it from metadata and keeps serving the persisted vectors.
	second := New(provider.VectorStoreConfig{})
	if err := second.Init(path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { second.Close() })

	results, err := second.SearchChunks(ctx, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c1" {
		t.Fatalf("chunk vectors lost across reopen: %v", results)
	}

	entries, err := second.SearchEntries(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Entry.ID != "e1" {
		t.Fatalf("entry vectors lost across reopen: %v", entries)
	}

	// An upsert in the second session must not wipe first-session vectors
	if err := second.UpsertEntry(ctx, &types.EmbeddedEntry{
		Entry:     &types.AnalysisEntry{ID: "e2", IssueID: "B-1", Summary: "Chart axis off by one"},
		Embedding: []float32{0, 1, 0, 0},
	}); err != nil {
		t.Fatal(err)
	}
	entries, err = second.SearchEntries(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected both sessions' entries, got %d", len(entries))
	}
}

func TestDimensionChangeDropsVectors(t *testing.T) {
	path := tempDBPath(t)
	ctx := context.Background()

	first := New(provider.VectorStoreConfig{Dimension: 4})
	if err := first.Init(path); err != nil {
		t.Fatal(err)
	}
	if err := first.UpsertChunks(ctx, []*types.EmbeddedChunk{testChunk("c1", "HandleLogin", 10)}); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := New(provider.VectorStoreConfig{Dimension: 8})
	if err := second.Init(path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { second.Close() })

	query := make([]float32, 8)
	query[0] = 1
	results, err := second.SearchChunks(ctx, query, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("old-dimension vectors should be dropped, got %v", results)
	}

	ec := testChunk("c2", "Logout", 30)
	ec.Embedding = query
	if err := second.UpsertChunks(ctx, []*types.EmbeddedChunk{ec}); err != nil {
		t.Fatal(err)
	}
	results, err = second.SearchChunks(ctx, query, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c2" {
		t.Errorf("new-dimension upsert failed: %v", results)
	}
}

func TestHistoryEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &types.EmbeddedEntry{
		Entry: &types.AnalysisEntry{
			ID:          "e1",
			IssueID:     "PROJ-123",
			Summary:     "Login fails after password reset",
			Description: "Session token not refreshed",
			Status:      "resolved",
			Priority:    "high",
			Findings: []types.Finding{
				{File: "auth/session.go", Lines: "42-58", Issue: "stale token", Resolution: "refresh on reset"},
			},
			LoggedAt: time.Now().UTC(),
		},
		Embedding: []float32{1, 0, 0, 0},
	}
	if err := store.UpsertEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.IssueID != "PROJ-123" {
		t.Errorf("expected PROJ-123, got %s", got.IssueID)
	}
	if len(got.Findings) != 1 || got.Findings[0].File != "auth/session.go" {
		t.Errorf("findings round trip failed: %v", got.Findings)
	}

	results, err := store.SearchEntries(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Entry.ID != "e1" {
		t.Fatalf("expected e1, got %v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("identical vector should score ~1.0, got %f", results[0].Score)
	}

	if _, err := store.GetEntry(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFingerprints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fp := &types.FileFingerprint{
		RepositoryID: "backend",
		FilePath:     "auth/session.go",
		ContentHash:  "abc123",
		ChunkIDs:     []string{"c1", "c2"},
		IndexedAt:    time.Now().UTC(),
	}
	if err := store.SetFingerprint(ctx, fp); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetFingerprint(ctx, "backend", "auth/session.go")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentHash != "abc123" {
		t.Errorf("expected hash abc123, got %s", got.ContentHash)
	}
	if len(got.ChunkIDs) != 2 {
		t.Errorf("chunk IDs round trip failed: %v", got.ChunkIDs)
	}

	// Replace on set
	fp.ContentHash = "def456"
	fp.ChunkIDs = []string{"c3"}
	if err := store.SetFingerprint(ctx, fp); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetFingerprint(ctx, "backend", "auth/session.go")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentHash != "def456" || len(got.ChunkIDs) != 1 {
		t.Errorf("replace failed: %v", got)
	}

	all, err := store.ListFingerprints(ctx, "backend")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 fingerprint, got %d", len(all))
	}

	if err := store.DeleteFingerprint(ctx, "backend", "auth/session.go"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetFingerprint(ctx, "backend", "auth/session.go"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []*types.EmbeddedChunk{
		testChunk("c1", "Login", 10),
		testChunk("c2", "Logout", 30),
	}
	if err := store.UpsertChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	fp := &types.FileFingerprint{
		RepositoryID: "backend",
		FilePath:     "auth/session.go",
		ContentHash:  "abc",
		ChunkIDs:     []string{"c1", "c2"},
	}
	if err := store.SetFingerprint(ctx, fp); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalChunks != 2 {
		t.Errorf("expected 2 chunks, got %d", stats.TotalChunks)
	}
	if stats.IndexedFiles != 1 {
		t.Errorf("expected 1 indexed file, got %d", stats.IndexedFiles)
	}
	if stats.ByLanguage["go"] != 2 {
		t.Errorf("expected 2 go chunks, got %d", stats.ByLanguage["go"])
	}
}
