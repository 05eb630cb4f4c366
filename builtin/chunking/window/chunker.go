// Package window implements fixed-size line-window chunking, the last
// resort for files no other strategy understands.
package window

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

// Default values
const (
	DefaultWindowLines  = 80
	DefaultOverlapLines = 3
)

// Config contains configuration for window chunking.
type Config struct {
	WindowLines  int // Lines per chunk
	OverlapLines int // Lines shared between consecutive chunks
}

// Chunker slices files into overlapping line windows.
type Chunker struct {
	config Config
}

// New creates a new window chunker.
func New(cfg Config) *Chunker {
	if cfg.WindowLines == 0 {
		cfg.WindowLines = DefaultWindowLines
	}
	if cfg.OverlapLines == 0 {
		cfg.OverlapLines = DefaultOverlapLines
	}
	if cfg.OverlapLines >= cfg.WindowLines {
		cfg.OverlapLines = cfg.WindowLines / 4
	}
	return &Chunker{config: cfg}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "window"
}

// SupportsLanguage returns true for any language.
func (c *Chunker) SupportsLanguage(lang string) bool {
	return true
}

// Close releases resources.
func (c *Chunker) Close() error {
	return nil
}

// Chunk splits a file into overlapping windows of whole lines. Window
// names encode the line range so chunk IDs stay stable for unchanged
// content.
func (c *Chunker) Chunk(file *types.SourceFile) ([]*types.Chunk, error) {
	content := file.Content
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	base := filepath.Base(file.Path)

	step := c.config.WindowLines - c.config.OverlapLines

	var chunks []*types.Chunk
	for start := 0; start < len(lines); start += step {
		end := start + c.config.WindowLines
		if end > len(lines) {
			end = len(lines)
		}

		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			chunk := &types.Chunk{
				RepositoryID: file.RepositoryID,
				FilePath:     file.Path,
				Language:     file.Language,
				UnitKind:     types.UnitFragment,
				Name:         fmt.Sprintf("%s#L%d-L%d", base, start+1, end),
				StartLine:    start + 1,
				EndLine:      end,
				Content:      body,
			}
			chunk.ID = chunk.GenerateID()
			chunks = append(chunks, chunk)
		}

		if end == len(lines) {
			break
		}
	}

	return chunks, nil
}

// Ensure Chunker implements ChunkingStrategy interface
var _ provider.ChunkingStrategy = (*Chunker)(nil)
