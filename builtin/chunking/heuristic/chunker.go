// Package heuristic implements pattern-based chunking for files that
// Tree-sitter cannot parse. Definition lines are detected with regular
// expressions and each definition opens a new chunk.
package heuristic

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

// Config contains configuration for heuristic chunking.
type Config struct {
	MaxChunkSize int // Maximum characters per chunk, 0 for no limit
}

// Chunker implements definition-boundary chunking without a parser.
type Chunker struct {
	config Config
}

// New creates a new heuristic chunker.
func New(cfg Config) *Chunker {
	return &Chunker{config: cfg}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "heuristic"
}

// SupportsLanguage returns true for any language with known definition
// patterns, which covers all languages the detector emits.
func (c *Chunker) SupportsLanguage(lang string) bool {
	return true
}

// Close releases resources.
func (c *Chunker) Close() error {
	return nil
}

// Definition line patterns. The first submatch is the definition name.
var (
	goFuncPattern  = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`)
	goTypePattern  = regexp.MustCompile(`^type\s+([A-Za-z_]\w*)`)
	pyDefPattern   = regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)`)
	pyClassPattern = regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)
	jsFuncPattern  = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)`)
	jsClassPattern = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`)
	jsArrowPattern = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`)
	rustFnPattern  = regexp.MustCompile(`^(?:pub\s+)?(?:async\s+)?fn\s+([A-Za-z_]\w*)`)
	rustTyPattern  = regexp.MustCompile(`^(?:pub\s+)?(?:struct|enum|trait|impl)\s+([A-Za-z_]\w*)`)
	rubyPattern    = regexp.MustCompile(`^\s*def\s+(?:self\.)?([A-Za-z_]\w*[?!]?)`)
	rubyClassPat   = regexp.MustCompile(`^\s*(?:class|module)\s+([A-Z]\w*)`)
	braceDefPat    = regexp.MustCompile(`^[\w<>\[\],\s\*&:]*?\b([A-Za-z_]\w*)\s*\([^;={]*\)\s*\{\s*$`)
)

// detectDefinition reports whether a line starts a definition, and if
// so its unit kind and name.
func detectDefinition(line, language string) (types.UnitKind, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", false
	}

	switch language {
	case "go":
		if m := goFuncPattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitFunction, m[1], true
		}
		if m := goTypePattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitClass, m[1], true
		}
	case "python":
		if m := pyClassPattern.FindStringSubmatch(line); m != nil {
			return types.UnitClass, m[1], true
		}
		if m := pyDefPattern.FindStringSubmatch(line); m != nil {
			return types.UnitFunction, m[1], true
		}
	case "javascript", "typescript", "jsx", "tsx":
		if m := jsFuncPattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitFunction, m[1], true
		}
		if m := jsClassPattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitClass, m[1], true
		}
		if m := jsArrowPattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitFunction, m[1], true
		}
	case "rust":
		if m := rustFnPattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitFunction, m[1], true
		}
		if m := rustTyPattern.FindStringSubmatch(trimmed); m != nil {
			return types.UnitClass, m[1], true
		}
	case "ruby":
		if m := rubyClassPat.FindStringSubmatch(line); m != nil {
			return types.UnitClass, m[1], true
		}
		if m := rubyPattern.FindStringSubmatch(line); m != nil {
			return types.UnitFunction, m[1], true
		}
	default:
		// Curly-brace languages: a line that declares something with a
		// parameter list and opens a block
		if strings.HasPrefix(trimmed, "if") || strings.HasPrefix(trimmed, "for") ||
			strings.HasPrefix(trimmed, "while") || strings.HasPrefix(trimmed, "switch") ||
			strings.HasPrefix(trimmed, "return") {
			return "", "", false
		}
		if m := braceDefPat.FindStringSubmatch(trimmed); m != nil {
			return types.UnitFunction, m[1], true
		}
	}

	return "", "", false
}

// Chunk splits a file at detected definition boundaries. Content before
// the first definition becomes a module chunk; each definition owns the
// lines up to the next definition at the same or lower indentation.
func (c *Chunker) Chunk(file *types.SourceFile) ([]*types.Chunk, error) {
	content := file.Content
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")

	type boundary struct {
		line int // 0-based
		kind types.UnitKind
		name string
	}
	var boundaries []boundary
	for i, line := range lines {
		if kind, name, ok := detectDefinition(line, file.Language); ok {
			boundaries = append(boundaries, boundary{line: i, kind: kind, name: name})
		}
	}

	var chunks []*types.Chunk
	add := func(kind types.UnitKind, name string, startIdx, endIdx int) {
		body := strings.Join(lines[startIdx:endIdx], "\n")
		if strings.TrimSpace(body) == "" {
			return
		}
		chunk := &types.Chunk{
			RepositoryID: file.RepositoryID,
			FilePath:     file.Path,
			Language:     file.Language,
			UnitKind:     kind,
			Name:         name,
			StartLine:    startIdx + 1,
			EndLine:      endIdx,
			Content:      body,
		}
		if kind != types.UnitModule {
			chunk.Signature = strings.TrimSpace(lines[startIdx])
		}
		chunk.ID = chunk.GenerateID()
		chunks = append(chunks, chunk)
	}

	if len(boundaries) == 0 {
		add(types.UnitModule, filepath.Base(file.Path), 0, len(lines))
		return chunks, nil
	}

	// File preamble before the first definition
	if boundaries[0].line > 0 {
		add(types.UnitModule, filepath.Base(file.Path), 0, boundaries[0].line)
	}

	for i, b := range boundaries {
		end := len(lines)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].line
		}
		add(b.kind, b.name, b.line, end)
	}

	return chunks, nil
}

// DetectLanguage detects language from file extension.
func DetectLanguage(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if base == "dockerfile" {
		return "dockerfile"
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".jsx":
		return "jsx"
	case ".tsx":
		return "tsx"
	case ".java":
		return "java"
	case ".rs":
		return "rust"
	case ".rb":
		return "ruby"
	case ".c":
		return "c"
	case ".cpp", ".cc", ".cxx":
		return "cpp"
	case ".h", ".hpp":
		return "h"
	case ".cs":
		return "csharp"
	case ".php":
		return "php"
	case ".swift":
		return "swift"
	case ".kt", ".kts":
		return "kotlin"
	case ".scala":
		return "scala"
	case ".sh", ".bash":
		return "bash"
	case ".sql":
		return "sql"
	case ".md", ".markdown":
		return "markdown"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "text"
	}
}

// Ensure Chunker implements the interfaces
var (
	_ provider.ChunkingStrategy = (*Chunker)(nil)
)
