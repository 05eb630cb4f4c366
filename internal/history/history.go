// Package history logs completed defect analyses and serves similarity
// queries over them, keeping the corpus free of near-duplicates.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

const (
	// DefaultDuplicateThreshold suppresses only near-identical
	// restatements; distinct-but-similar issues stay distinct.
	DefaultDuplicateThreshold = 0.90
	// DefaultContextThreshold is permissive enough to surface context
	// from moderately related past issues.
	DefaultContextThreshold = 0.70
	DefaultSimilarLimit     = 3
)

// Manager orchestrates embedding, duplicate suppression, and similarity
// search over analysis history.
type Manager struct {
	store    provider.HistoryStore
	embedder provider.EmbeddingProvider

	duplicateThreshold float32
	contextThreshold   float32
	similarLimit       int
}

// Config contains history manager configuration.
type Config struct {
	Store     provider.HistoryStore
	Embedding provider.EmbeddingProvider
	// DuplicateThreshold: entries scoring above it are suppressed.
	DuplicateThreshold float32
	// ContextThreshold: similar-search results scoring below it are
	// dropped.
	ContextThreshold float32
	SimilarLimit     int
}

// New creates a new history manager.
func New(cfg Config) *Manager {
	m := &Manager{
		store:              cfg.Store,
		embedder:           cfg.Embedding,
		duplicateThreshold: cfg.DuplicateThreshold,
		contextThreshold:   cfg.ContextThreshold,
		similarLimit:       cfg.SimilarLimit,
	}
	if m.duplicateThreshold == 0 {
		m.duplicateThreshold = DefaultDuplicateThreshold
	}
	if m.contextThreshold == 0 {
		m.contextThreshold = DefaultContextThreshold
	}
	if m.similarLimit <= 0 {
		m.similarLimit = DefaultSimilarLimit
	}
	return m
}

// LogResult reports the outcome of logging one analysis entry.
type LogResult struct {
	// Entry is the persisted entry; nil when suppressed.
	Entry *types.AnalysisEntry
	// Suppressed is true when the candidate duplicated a prior entry
	// and was not persisted.
	Suppressed  bool
	DuplicateOf string
	Similarity  float32
}

// Log persists an analysis entry unless it near-duplicates an existing
// one. Suppression is an outcome, not an error: the result names the
// entry being duplicated.
func (m *Manager) Log(ctx context.Context, entry *types.AnalysisEntry) (*LogResult, error) {
	embedding, err := m.embed(ctx, entry.EmbeddingText())
	if err != nil {
		return nil, err
	}

	best, err := m.store.SearchEntries(ctx, embedding, 1)
	if err != nil {
		return nil, fmt.Errorf("searching history for duplicates: %w", err)
	}

	if len(best) > 0 && best[0].Score > m.duplicateThreshold {
		slog.Info("suppressing duplicate analysis entry",
			"issue", entry.IssueID,
			"duplicate_of", best[0].Entry.ID,
			"similarity", best[0].Score,
		)
		return &LogResult{
			Suppressed:  true,
			DuplicateOf: best[0].Entry.ID,
			Similarity:  best[0].Score,
		}, nil
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	if err := m.store.UpsertEntry(ctx, &types.EmbeddedEntry{Entry: entry, Embedding: embedding}); err != nil {
		return nil, fmt.Errorf("persisting analysis entry: %w", err)
	}

	slog.Debug("logged analysis entry", "id", entry.ID, "issue", entry.IssueID)
	return &LogResult{Entry: entry}, nil
}

// SearchSimilar returns past analyses related to the query text, best
// first, dropping anything below the context threshold.
func (m *Manager) SearchSimilar(ctx context.Context, text string) ([]*types.ScoredEntry, error) {
	embedding, err := m.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	candidates, err := m.store.SearchEntries(ctx, embedding, m.similarLimit)
	if err != nil {
		return nil, fmt.Errorf("searching history: %w", err)
	}

	results := make([]*types.ScoredEntry, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= m.contextThreshold {
			results = append(results, c)
		}
	}
	return results, nil
}

// Get fetches a single entry by ID.
func (m *Manager) Get(ctx context.Context, id string) (*types.AnalysisEntry, error) {
	return m.store.GetEntry(ctx, id)
}

func (m *Manager) embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding history text: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected one embedding, got %d", len(embeddings))
	}
	return embeddings[0], nil
}
