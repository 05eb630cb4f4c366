// Package index implements parallel incremental indexing of source
// files into a vector store.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

// Progress reports indexing state to an observer.
type Progress struct {
	Phase          string // scanning, indexing, cleanup
	TotalFiles     int
	ProcessedFiles int
	CurrentFile    string
}

// Indexer turns source files into embedded chunks in the store.
//
// Each file runs the full fingerprint-check, chunk, embed, upsert,
// fingerprint-write sequence inside one worker, so a crash mid-run
// leaves every file either fully indexed or due for a retry; the
// fingerprint is always written last.
type Indexer struct {
	store      provider.VectorStore
	embedder   provider.EmbeddingProvider
	chunker    provider.ChunkingStrategy
	workers    int
	onProgress func(Progress)

	progressMu sync.Mutex
	progress   Progress
}

// Config contains indexer configuration.
type Config struct {
	Store     provider.VectorStore
	Embedding provider.EmbeddingProvider
	Chunker   provider.ChunkingStrategy
	// Workers is the parallel worker count; 0 means runtime.NumCPU().
	Workers    int
	OnProgress func(Progress)
}

// New creates a new indexer.
func New(cfg Config) *Indexer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Indexer{
		store:      cfg.Store,
		embedder:   cfg.Embedding,
		chunker:    cfg.Chunker,
		workers:    workers,
		onProgress: cfg.OnProgress,
	}
}

// Sync indexes the given files and removes store state for files of the
// repository that are no longer present. It is the full-reconciliation
// entry point: files must be the repository's complete current file set.
func (idx *Indexer) Sync(ctx context.Context, repositoryID string, files []*types.SourceFile) (*types.IndexReport, error) {
	report, err := idx.IndexFiles(ctx, files)
	if err != nil {
		return report, err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Path] = true
	}

	idx.setProgress("cleanup", len(files), len(files), "")

	fingerprints, err := idx.store.ListFingerprints(ctx, repositoryID)
	if err != nil {
		return report, fmt.Errorf("listing fingerprints: %w", err)
	}

	for path, fp := range fingerprints {
		if seen[path] {
			continue
		}
		if err := idx.removeFile(ctx, fp); err != nil {
			return report, err
		}
		report.FilesRemoved++
		report.ChunksDeleted += len(fp.ChunkIDs)
		slog.Info("removed deleted file from index", "repository", repositoryID, "file", path)
	}

	return report, nil
}

// IndexFiles indexes the given files without touching other files'
// state. Per-file chunking and embedding failures are recorded in the
// report and do not fail the run; a store outage aborts it.
func (idx *Indexer) IndexFiles(ctx context.Context, files []*types.SourceFile) (*types.IndexReport, error) {
	startTime := time.Now()
	report := &types.IndexReport{FilesSeen: len(files)}

	if len(files) == 0 {
		report.Duration = time.Since(startTime)
		return report, nil
	}

	idx.setProgress("indexing", len(files), 0, "")

	var mu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for _, file := range files {
		file := file
		g.Go(func() error {
			outcome, err := idx.indexFile(gctx, file)
			if err != nil {
				// Only a store outage or cancellation stops the run.
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			processed++
			switch {
			case outcome.skipped != nil:
				report.FilesFailed++
				report.Skipped = append(report.Skipped, *outcome.skipped)
			case outcome.unchanged:
				report.FilesUnchanged++
			default:
				report.FilesIndexed++
				report.ChunksUpserted += outcome.upserted
				report.ChunksDeleted += outcome.deleted
			}
			idx.setProgress("indexing", len(files), processed, file.Path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		report.Duration = time.Since(startTime)
		return report, err
	}

	report.Duration = time.Since(startTime)
	slog.Info("indexing pass complete",
		"seen", report.FilesSeen,
		"indexed", report.FilesIndexed,
		"unchanged", report.FilesUnchanged,
		"failed", report.FilesFailed,
		"chunks", report.ChunksUpserted,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

// RemoveFiles deletes all store state for the given repository-relative
// paths. Paths that were never indexed are ignored.
func (idx *Indexer) RemoveFiles(ctx context.Context, repositoryID string, paths []string) (int, error) {
	removed := 0
	for _, path := range paths {
		fp, err := idx.store.GetFingerprint(ctx, repositoryID, path)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if err := idx.removeFile(ctx, fp); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ClearRepository drops every chunk and fingerprint of one repository.
func (idx *Indexer) ClearRepository(ctx context.Context, repositoryID string) (int, error) {
	fingerprints, err := idx.store.ListFingerprints(ctx, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("listing fingerprints: %w", err)
	}

	deleted := 0
	for _, fp := range fingerprints {
		if err := idx.removeFile(ctx, fp); err != nil {
			return deleted, err
		}
		deleted += len(fp.ChunkIDs)
	}

	slog.Info("cleared repository", "repository", repositoryID, "files", len(fingerprints), "chunks", deleted)
	return deleted, nil
}

type fileOutcome struct {
	unchanged bool
	skipped   *types.SkippedFile
	upserted  int
	deleted   int
}

// indexFile runs the per-file pipeline. It returns a non-nil error only
// for failures that must abort the whole pass.
func (idx *Indexer) indexFile(ctx context.Context, file *types.SourceFile) (fileOutcome, error) {
	if ctx.Err() != nil {
		return fileOutcome{}, ctx.Err()
	}

	if file.Hash == "" {
		file.Hash = file.ComputeHash()
	}

	prev, err := idx.store.GetFingerprint(ctx, file.RepositoryID, file.Path)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fileOutcome{}, fmt.Errorf("fingerprint lookup for %s: %w", file.Path, err)
	}

	if prev != nil && prev.ContentHash == file.Hash {
		return fileOutcome{unchanged: true}, nil
	}

	chunks, err := idx.chunker.Chunk(file)
	if err != nil {
		slog.Warn("chunking failed", "file", file.Path, "error", err)
		return fileOutcome{skipped: &types.SkippedFile{
			Path:   file.Path,
			Reason: fmt.Sprintf("chunking failed: %v", err),
		}}, nil
	}

	embedded, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		if ctx.Err() != nil {
			return fileOutcome{}, ctx.Err()
		}
		slog.Warn("embedding failed", "file", file.Path, "error", err)
		return fileOutcome{skipped: &types.SkippedFile{
			Path:   file.Path,
			Reason: fmt.Sprintf("embedding failed: %v", err),
		}}, nil
	}

	if len(embedded) > 0 {
		if err := idx.store.UpsertChunks(ctx, embedded); err != nil {
			return fileOutcome{}, fmt.Errorf("upserting chunks for %s: %w", file.Path, err)
		}
	}

	newIDs := make([]string, len(chunks))
	newSet := make(map[string]bool, len(chunks))
	for i, c := range chunks {
		newIDs[i] = c.ID
		newSet[c.ID] = true
	}

	// Drop chunks from the previous version of the file that no longer
	// exist, so the stored set exactly mirrors the current content.
	var stale []string
	if prev != nil {
		for _, id := range prev.ChunkIDs {
			if !newSet[id] {
				stale = append(stale, id)
			}
		}
	}
	if len(stale) > 0 {
		if err := idx.store.DeleteChunks(ctx, stale); err != nil {
			return fileOutcome{}, fmt.Errorf("deleting stale chunks for %s: %w", file.Path, err)
		}
	}

	// Fingerprint last: if anything above failed, the old fingerprint
	// stays and the next pass redoes the file.
	fp := &types.FileFingerprint{
		RepositoryID: file.RepositoryID,
		FilePath:     file.Path,
		ContentHash:  file.Hash,
		ChunkIDs:     newIDs,
		IndexedAt:    time.Now().UTC(),
	}
	if err := idx.store.SetFingerprint(ctx, fp); err != nil {
		return fileOutcome{}, fmt.Errorf("writing fingerprint for %s: %w", file.Path, err)
	}

	return fileOutcome{upserted: len(embedded), deleted: len(stale)}, nil
}

// embedChunks embeds chunks in provider-sized batches.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []*types.Chunk) ([]*types.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	batchSize := idx.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	results := make([]*types.EmbeddedChunk, len(chunks))
	for i := 0; i < len(chunks); i += batchSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := chunks[i:end]
		texts := make([]string, len(batch))
		for j, chunk := range batch {
			texts[j] = chunk.EmbeddingText()
		}

		embeddings, err := idx.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
		}

		for j, chunk := range batch {
			results[i+j] = &types.EmbeddedChunk{Chunk: chunk, Embedding: embeddings[j]}
		}
	}

	return results, nil
}

func (idx *Indexer) removeFile(ctx context.Context, fp *types.FileFingerprint) error {
	if len(fp.ChunkIDs) > 0 {
		if err := idx.store.DeleteChunks(ctx, fp.ChunkIDs); err != nil {
			return fmt.Errorf("deleting chunks for %s: %w", fp.FilePath, err)
		}
	}
	if err := idx.store.DeleteFingerprint(ctx, fp.RepositoryID, fp.FilePath); err != nil {
		return fmt.Errorf("deleting fingerprint for %s: %w", fp.FilePath, err)
	}
	return nil
}

func (idx *Indexer) setProgress(phase string, total, processed int, currentFile string) {
	idx.progressMu.Lock()
	idx.progress = Progress{
		Phase:          phase,
		TotalFiles:     total,
		ProcessedFiles: processed,
		CurrentFile:    currentFile,
	}
	p := idx.progress
	cb := idx.onProgress
	idx.progressMu.Unlock()

	if cb != nil {
		cb(p)
	}
}
