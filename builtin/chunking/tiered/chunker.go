// Package tiered composes the chunking strategies into a fallback
// chain: Tree-sitter when the grammar is available, definition
// heuristics when parsing fails, and line windows as the last resort.
package tiered

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/triagekit/triagekit/builtin/chunking/heuristic"
	"github.com/triagekit/triagekit/builtin/chunking/treesitter"
	"github.com/triagekit/triagekit/builtin/chunking/window"
	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

// Default values
const (
	DefaultMaxChunkSize = 2000 // chars before a chunk is split into fragments
)

// Config contains configuration for tiered chunking.
type Config struct {
	MaxChunkSize int // Maximum characters per chunk
	WindowLines  int // Lines per window chunk in the last tier
	OverlapLines int // Overlapping lines between window chunks
}

// Chunker dispatches to the strongest strategy that can handle a file.
type Chunker struct {
	config     Config
	structural *treesitter.Chunker
	patterns   *heuristic.Chunker
	windows    *window.Chunker
}

// New creates a new tiered chunker.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}

	return &Chunker{
		config:     cfg,
		structural: treesitter.New(treesitter.Config{MaxChunkSize: cfg.MaxChunkSize}),
		patterns:   heuristic.New(heuristic.Config{MaxChunkSize: cfg.MaxChunkSize}),
		windows:    window.New(window.Config{WindowLines: cfg.WindowLines, OverlapLines: cfg.OverlapLines}),
	}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "tiered"
}

// SupportsLanguage returns true: the window tier accepts anything.
func (c *Chunker) SupportsLanguage(lang string) bool {
	return true
}

// Close releases all tier resources.
func (c *Chunker) Close() error {
	var errs []error
	for _, strategy := range []provider.ChunkingStrategy{c.structural, c.patterns, c.windows} {
		if err := strategy.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Chunk runs the file through the tiers in order and returns the first
// successful result, with oversized chunks split into fragments.
func (c *Chunker) Chunk(file *types.SourceFile) ([]*types.Chunk, error) {
	if file.Language == "" {
		file.Language = heuristic.DetectLanguage(file.Path)
	}

	var chunks []*types.Chunk
	var err error

	if c.structural.SupportsLanguage(file.Language) {
		chunks, err = c.structural.Chunk(file)
		if err == nil {
			return c.splitOversized(chunks), nil
		}
		slog.Debug("structural chunking failed, falling back",
			"file", file.Path, "error", err)
	}

	chunks, err = c.patterns.Chunk(file)
	if err == nil && len(chunks) > 0 {
		return c.splitOversized(chunks), nil
	}

	chunks, err = c.windows.Chunk(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrChunkingFailed, file.Path, err)
	}
	return c.splitOversized(chunks), nil
}

// splitOversized replaces chunks larger than MaxChunkSize with line
// fragments that keep the original unit name as their parent.
func (c *Chunker) splitOversized(chunks []*types.Chunk) []*types.Chunk {
	var out []*types.Chunk
	for _, chunk := range chunks {
		if len(chunk.Content) <= c.config.MaxChunkSize {
			out = append(out, chunk)
			continue
		}
		out = append(out, c.splitChunk(chunk)...)
	}
	return out
}

// splitChunk cuts one oversized chunk into fragments on line
// boundaries. Fragment IDs derive from the parent name and absolute
// start line, so an unchanged unit re-splits identically.
func (c *Chunker) splitChunk(chunk *types.Chunk) []*types.Chunk {
	lines := strings.Split(chunk.Content, "\n")

	var fragments []*types.Chunk
	var buf []string
	var bufChars int
	startIdx := 0

	flush := func(endIdx int) {
		if len(buf) == 0 {
			return
		}
		startLine := chunk.StartLine + startIdx
		fragment := &types.Chunk{
			RepositoryID: chunk.RepositoryID,
			FilePath:     chunk.FilePath,
			Language:     chunk.Language,
			UnitKind:     types.UnitFragment,
			Name:         fmt.Sprintf("%s.part%d", fragmentBase(chunk), len(fragments)+1),
			ParentName:   chunk.Name,
			StartLine:    startLine,
			EndLine:      chunk.StartLine + endIdx - 1,
			Content:      strings.Join(buf, "\n"),
			Signature:    chunk.Signature,
			Imports:      chunk.Imports,
			Symbols:      chunk.Symbols,
		}
		fragment.ID = fragment.GenerateID()
		fragments = append(fragments, fragment)
	}

	for i, line := range lines {
		if bufChars+len(line)+1 > c.config.MaxChunkSize && len(buf) > 0 {
			flush(i)
			buf = nil
			bufChars = 0
			startIdx = i
		}
		buf = append(buf, line)
		bufChars += len(line) + 1
	}
	flush(len(lines))

	return fragments
}

func fragmentBase(chunk *types.Chunk) string {
	if chunk.Name != "" {
		return chunk.Name
	}
	return "fragment"
}

// Ensure Chunker implements ChunkingStrategy interface
var _ provider.ChunkingStrategy = (*Chunker)(nil)
