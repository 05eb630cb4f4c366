package provider

import (
	"github.com/triagekit/triagekit/pkg/types"
)

// ChunkingStrategy splits source files into indexable chunks.
//
// A strategy may refuse a file it does not understand; the caller is
// expected to fall back to cruder strategies until one succeeds.
type ChunkingStrategy interface {
	// Name returns the strategy name (e.g., "treesitter", "heuristic").
	Name() string

	// Chunk splits a source file into chunks. Chunks are returned in
	// source order with identity fields (RepositoryID, FilePath, Name,
	// StartLine) populated so that IDs remain stable across runs.
	Chunk(file *types.SourceFile) ([]*types.Chunk, error)

	// SupportsLanguage reports whether the strategy can parse files of
	// the given language.
	SupportsLanguage(language string) bool

	// Close releases any resources (parsers, etc).
	Close() error
}

// LanguageDetector maps file paths to language names. Strategies that
// need a language hint but receive files with an empty Language field
// may use one of these.
type LanguageDetector interface {
	// DetectLanguage returns the language for a file path, or "" when
	// the extension is not recognized.
	DetectLanguage(path string) string
}

// ChunkingConfig contains configuration for chunking strategies.
type ChunkingConfig struct {
	Strategy     string // "tiered", "treesitter", "heuristic", "window"
	MaxChunkSize int    // Maximum characters per chunk
	WindowLines  int    // Lines per window chunk
	OverlapLines int    // Overlapping lines between window chunks
}
