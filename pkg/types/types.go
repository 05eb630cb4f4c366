// Package types contains shared data types used across the triagekit engine.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceFile represents one source file supplied by a corpus source.
type SourceFile struct {
	RepositoryID string // Owning repository
	Path         string // Path relative to the repository root
	Content      string // File content
	Language     string // Detected language (go, python, javascript, etc.)
	Hash         string // SHA256 hash for incremental indexing
}

// ComputeHash calculates the SHA256 hash of the file content.
func (f *SourceFile) ComputeHash() string {
	h := sha256.Sum256([]byte(f.Content))
	return hex.EncodeToString(h[:])
}

// UnitKind classifies the semantic unit a chunk covers.
type UnitKind string

const (
	UnitModule   UnitKind = "module"
	UnitClass    UnitKind = "class"
	UnitFunction UnitKind = "function"
	UnitMethod   UnitKind = "method"
	// UnitFragment marks a synthetic chunk produced by splitting an
	// oversized unit at a statement boundary.
	UnitFragment UnitKind = "fragment"
)

// Chunk is a contiguous, semantically coherent unit of source code.
// Line numbers are 1-indexed and end-inclusive.
type Chunk struct {
	ID           string
	RepositoryID string
	FilePath     string
	Language     string
	UnitKind     UnitKind
	Name         string // Function/class/method name, or a synthetic block name
	ParentName   string // For methods, the enclosing class/type
	StartLine    int
	EndLine      int
	Content      string
	Signature    string   // Optional
	Docstring    string   // Optional leading comment or docstring
	Imports      []string // Imports visible to this chunk
	Symbols      []string // Symbols this chunk references (calls, type uses)
	IndexedAt    time.Time
}

// GenerateID derives the stable chunk ID from the chunk's identity.
// It depends only on repository, path, unit name and start line, so
// re-chunking an unchanged file yields identical IDs.
func (c *Chunk) GenerateID() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", c.RepositoryID, c.FilePath, c.Name, c.StartLine)))
	return hex.EncodeToString(h[:8])
}

// EmbeddingText builds the text a chunk is embedded over: the unit name
// and signature carry most of the semantic signal, so they lead, followed
// by the docstring and a bounded slice of the body.
func (c *Chunk) EmbeddingText() string {
	var parts []string
	if c.Name != "" {
		parts = append(parts, c.Name)
	}
	if c.Signature != "" {
		parts = append(parts, c.Signature)
	}
	if c.Docstring != "" {
		parts = append(parts, c.Docstring)
	}
	body := c.Content
	if len(body) > 2000 {
		body = body[:2000]
	}
	parts = append(parts, body)
	return strings.Join(parts, " ")
}

// EmbeddedChunk is a Chunk paired with its vector embedding.
type EmbeddedChunk struct {
	Chunk     *Chunk
	Embedding []float32
}

// FileFingerprint tracks the last-indexed state of one source file.
// ChunkIDs always equals the chunk set currently stored for the file.
type FileFingerprint struct {
	RepositoryID string
	FilePath     string
	ContentHash  string
	ChunkIDs     []string
	IndexedAt    time.Time
}

// Finding is one located problem inside an analysis entry.
type Finding struct {
	File       string `json:"file"`
	Lines      string `json:"lines"`
	Issue      string `json:"issue"`
	Resolution string `json:"resolution"`
	FixSnippet string `json:"fix_snippet,omitempty"`
}

// AnalysisEntry records one completed defect analysis. Entries are
// immutable once written; corrections create a new entry.
type AnalysisEntry struct {
	ID          string
	IssueID     string
	Summary     string
	Description string
	Status      string
	Priority    string
	Findings    []Finding
	LoggedAt    time.Time
}

// EmbeddingText builds the text an entry is embedded over.
func (e *AnalysisEntry) EmbeddingText() string {
	return strings.TrimSpace(e.Summary + " " + e.Description)
}

// EmbeddedEntry is an AnalysisEntry paired with its embedding.
type EmbeddedEntry struct {
	Entry     *AnalysisEntry
	Embedding []float32
}

// DefectReport is the engine's view of an incoming issue-tracker ticket.
type DefectReport struct {
	IssueID      string
	Summary      string
	Description  string
	Status       string
	Priority     string
	RepositoryID string // Optional search scope
}

// Text returns the combined free text of the report.
func (r *DefectReport) Text() string {
	return strings.TrimSpace(r.Summary + " " + r.Description)
}

// MatchKind identifies which retrieval signal produced a candidate.
type MatchKind string

const (
	MatchSemantic MatchKind = "semantic"
	MatchSymbol   MatchKind = "symbol"
	MatchKeyword  MatchKind = "keyword"
)

// ChunkFilters restricts chunk search and lookup operations.
type ChunkFilters struct {
	RepositoryID string
	Languages    []string
	UnitKinds    []UnitKind
}

// ScoredChunk is a chunk with a similarity score in [0,1].
type ScoredChunk struct {
	Chunk *Chunk
	Score float32
}

// ScoredEntry is an analysis entry with a similarity score in [0,1].
type ScoredEntry struct {
	Entry *AnalysisEntry
	Score float32
}

// ChunkMatch is one merged retrieval result.
type ChunkMatch struct {
	Chunk *Chunk
	// Score is the combined score across match kinds, capped at 1.0.
	Score float32
	// Kinds lists every signal that surfaced this chunk.
	Kinds []MatchKind
	// Explanation is a short human-readable note on why the chunk matched.
	Explanation string
}

// HasKind reports whether the match was produced by the given signal.
func (m *ChunkMatch) HasKind(kind MatchKind) bool {
	for _, k := range m.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RetrievalResult is the bounded, ranked output of hybrid retrieval.
// It is transient: produced per defect report, never persisted.
type RetrievalResult struct {
	Matches []*ChunkMatch
	// Degraded lists the match kinds whose candidate fetch did not
	// complete (provider outage or deadline). Consumers should lower
	// confidence accordingly.
	Degraded []MatchKind
	// SymbolsSearched are the identifier tokens extracted from the
	// report and used for exact lookup.
	SymbolsSearched []string
	TotalChars      int
}

// IsDegraded reports whether any candidate list is missing.
func (r *RetrievalResult) IsDegraded() bool {
	return len(r.Degraded) > 0
}

// SkippedFile records one file excluded from an indexing pass.
type SkippedFile struct {
	Path   string
	Reason string
}

// IndexReport is the aggregate outcome of one indexing pass.
type IndexReport struct {
	FilesSeen      int
	FilesIndexed   int
	FilesUnchanged int
	FilesRemoved   int
	FilesFailed    int
	ChunksUpserted int
	ChunksDeleted  int
	Skipped        []SkippedFile
	Duration       time.Duration
}

// StoreStats contains statistics about the persisted index.
type StoreStats struct {
	TotalChunks    int
	IndexedFiles   int
	HistoryEntries int
	ByLanguage     map[string]int
	ByUnitKind     map[string]int
	DBSizeBytes    int64
	LastIndexed    time.Time
}
