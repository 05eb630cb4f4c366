// Package retrieve implements hybrid retrieval of code chunks for
// incoming defect reports: semantic ANN search, exact symbol lookup,
// and keyword full-text lookup merged under fixed weights.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

const (
	// kindBoost is added to a match's score for every signal beyond the
	// first that surfaced the chunk.
	kindBoost = 0.15
	// perSymbolLimit bounds the chunks fetched for one symbol lookup.
	perSymbolLimit = 10
	// keywordLimit bounds the tokens used in the full-text query.
	keywordLimit = 6

	DefaultCandidateLimit  = 50
	DefaultContextBudget   = 15
	DefaultMaxContextChars = 60000
	DefaultTimeout         = 10 * time.Second
)

// Retriever answers defect reports with ranked code context.
type Retriever struct {
	store    provider.ChunkSearcher
	embedder provider.EmbeddingProvider

	candidateLimit  int
	contextBudget   int
	maxContextChars int
	timeout         time.Duration
}

// Config contains retriever configuration.
type Config struct {
	Store     provider.ChunkSearcher
	Embedding provider.EmbeddingProvider
	// CandidateLimit is the semantic candidate pool size, normally a
	// few multiples of ContextBudget.
	CandidateLimit  int
	ContextBudget   int
	MaxContextChars int
	Timeout         time.Duration
}

// New creates a new retriever.
func New(cfg Config) *Retriever {
	r := &Retriever{
		store:           cfg.Store,
		embedder:        cfg.Embedding,
		candidateLimit:  cfg.CandidateLimit,
		contextBudget:   cfg.ContextBudget,
		maxContextChars: cfg.MaxContextChars,
		timeout:         cfg.Timeout,
	}
	if r.candidateLimit <= 0 {
		r.candidateLimit = DefaultCandidateLimit
	}
	if r.contextBudget <= 0 {
		r.contextBudget = DefaultContextBudget
	}
	if r.maxContextChars <= 0 {
		r.maxContextChars = DefaultMaxContextChars
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	return r
}

type candidate struct {
	chunk         *types.Chunk
	semanticScore float32
	kinds         []types.MatchKind
	symbol        string // the symbol that matched, for explanations
}

// Retrieve returns the ranked, budget-bounded context for a defect
// report. A lane that fails or times out is dropped and flagged in
// Degraded; only a failure of every lane still yields an empty result,
// never an error, so an unindexed corpus answers empty.
func (r *Retriever) Retrieve(ctx context.Context, report *types.DefectReport) (*types.RetrievalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text := report.Text()
	symbols := ExtractSymbols(text)
	keywords := ExtractKeywords(text, keywordLimit)

	var filters *types.ChunkFilters
	if report.RepositoryID != "" {
		filters = &types.ChunkFilters{RepositoryID: report.RepositoryID}
	}

	var (
		wg sync.WaitGroup

		semantic    []*types.ScoredChunk
		semanticErr error

		symbolHits map[string][]*types.Chunk
		symbolErr  error

		keyword    []*types.Chunk
		keywordErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		semantic, semanticErr = r.semanticCandidates(ctx, text, filters)
	}()
	go func() {
		defer wg.Done()
		symbolHits, symbolErr = r.symbolCandidates(ctx, symbols, filters)
	}()
	go func() {
		defer wg.Done()
		keyword, keywordErr = r.keywordCandidates(ctx, keywords, filters)
	}()
	wg.Wait()

	result := &types.RetrievalResult{SymbolsSearched: symbols}
	if semanticErr != nil {
		slog.Warn("semantic retrieval degraded", "error", semanticErr)
		result.Degraded = append(result.Degraded, types.MatchSemantic)
	}
	if symbolErr != nil {
		slog.Warn("symbol retrieval degraded", "error", symbolErr)
		result.Degraded = append(result.Degraded, types.MatchSymbol)
	}
	if keywordErr != nil {
		slog.Warn("keyword retrieval degraded", "error", keywordErr)
		result.Degraded = append(result.Degraded, types.MatchKeyword)
	}

	merged := mergeCandidates(semantic, symbolHits, keyword)
	r.rankAndTruncate(merged, result)
	return result, nil
}

func (r *Retriever) semanticCandidates(ctx context.Context, text string, filters *types.ChunkFilters) ([]*types.ScoredChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	embeddings, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding defect text: %w", err)
	}
	return r.store.SearchChunks(ctx, embeddings[0], r.candidateLimit, filters)
}

func (r *Retriever) symbolCandidates(ctx context.Context, symbols []string, filters *types.ChunkFilters) (map[string][]*types.Chunk, error) {
	hits := make(map[string][]*types.Chunk)
	for _, symbol := range symbols {
		chunks, err := r.store.LookupChunksBySymbol(ctx, symbol, perSymbolLimit, filters)
		if err != nil {
			// Keep whatever already resolved; the lane is degraded.
			return hits, fmt.Errorf("symbol lookup %q: %w", symbol, err)
		}
		if len(chunks) > 0 {
			hits[symbol] = chunks
		}
	}
	return hits, nil
}

func (r *Retriever) keywordCandidates(ctx context.Context, keywords []string, filters *types.ChunkFilters) ([]*types.Chunk, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	query := strings.Join(keywords, " OR ")
	return r.store.LookupChunksByKeyword(ctx, query, r.candidateLimit, filters)
}

// mergeCandidates folds the three lanes into one candidate per chunk.
func mergeCandidates(semantic []*types.ScoredChunk, symbolHits map[string][]*types.Chunk, keyword []*types.Chunk) map[string]*candidate {
	merged := make(map[string]*candidate)

	for _, sc := range semantic {
		merged[sc.Chunk.ID] = &candidate{
			chunk:         sc.Chunk,
			semanticScore: sc.Score,
			kinds:         []types.MatchKind{types.MatchSemantic},
		}
	}

	for symbol, chunks := range symbolHits {
		for _, chunk := range chunks {
			c, ok := merged[chunk.ID]
			if !ok {
				c = &candidate{chunk: chunk}
				merged[chunk.ID] = c
			}
			if !hasKind(c.kinds, types.MatchSymbol) {
				c.kinds = append(c.kinds, types.MatchSymbol)
				c.symbol = symbol
			}
		}
	}

	for _, chunk := range keyword {
		c, ok := merged[chunk.ID]
		if !ok {
			c = &candidate{chunk: chunk}
			merged[chunk.ID] = c
		}
		if !hasKind(c.kinds, types.MatchKeyword) {
			c.kinds = append(c.kinds, types.MatchKeyword)
		}
	}

	return merged
}

// rankAndTruncate scores, orders, and budget-bounds the merged
// candidates into the result.
func (r *Retriever) rankAndTruncate(merged map[string]*candidate, result *types.RetrievalResult) {
	matches := make([]*types.ChunkMatch, 0, len(merged))
	for _, c := range merged {
		matches = append(matches, &types.ChunkMatch{
			Chunk:       c.chunk,
			Score:       combinedScore(c),
			Kinds:       c.kinds,
			Explanation: explain(c),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		pi, pj := kindPriority(matches[i]), kindPriority(matches[j])
		if pi != pj {
			return pi > pj
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})

	for _, m := range matches {
		if len(result.Matches) >= r.contextBudget {
			break
		}
		size := len(m.Chunk.Content)
		if len(result.Matches) > 0 && result.TotalChars+size > r.maxContextChars {
			continue
		}
		result.Matches = append(result.Matches, m)
		result.TotalChars += size
	}
}

// combinedScore implements the fixed merge weights: the semantic score
// floored at zero, plus kindBoost per additional match kind, capped at 1.
func combinedScore(c *candidate) float32 {
	score := c.semanticScore
	if score < 0 {
		score = 0
	}
	if extra := len(c.kinds) - 1; extra > 0 {
		score += kindBoost * float32(extra)
	}
	if len(c.kinds) == 1 && c.kinds[0] != types.MatchSemantic {
		// A single non-semantic signal still outranks nothing at all.
		score = kindBoost
	}
	if score > 1 {
		score = 1
	}
	return score
}

// kindPriority orders equal scores: symbol beats keyword beats
// semantic-only.
func kindPriority(m *types.ChunkMatch) int {
	switch {
	case m.HasKind(types.MatchSymbol):
		return 2
	case m.HasKind(types.MatchKeyword):
		return 1
	default:
		return 0
	}
}

func explain(c *candidate) string {
	var parts []string
	for _, kind := range c.kinds {
		switch kind {
		case types.MatchSemantic:
			parts = append(parts, fmt.Sprintf("semantic similarity %.2f", c.semanticScore))
		case types.MatchSymbol:
			parts = append(parts, fmt.Sprintf("references symbol %q", c.symbol))
		case types.MatchKeyword:
			parts = append(parts, "keyword match")
		}
	}
	return strings.Join(parts, ", ")
}

func hasKind(kinds []types.MatchKind, kind types.MatchKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
