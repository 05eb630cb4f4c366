// Package treesitter implements chunking using Tree-sitter for AST-aware splitting.
package treesitter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	tstype "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

// Default values
const (
	DefaultMaxChunkSize = 8000 // chars
)

// Config contains configuration for TreeSitter chunking.
type Config struct {
	MaxChunkSize int // Maximum chunk size in characters
}

// Chunker implements AST-aware chunking using Tree-sitter.
type Chunker struct {
	config Config
}

// New creates a new TreeSitter chunker.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}

	return &Chunker{config: cfg}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "treesitter"
}

// getLanguage returns the grammar for the given language.
func (c *Chunker) getLanguage(lang string) (*sitter.Language, bool) {
	switch lang {
	case "go":
		return golang.GetLanguage(), true
	case "python":
		return python.GetLanguage(), true
	case "javascript", "jsx":
		return javascript.GetLanguage(), true
	case "typescript":
		return tstype.GetLanguage(), true
	case "tsx":
		return tsx.GetLanguage(), true
	case "java":
		return java.GetLanguage(), true
	default:
		return nil, false
	}
}

// SupportsLanguage checks if a language is supported.
func (c *Chunker) SupportsLanguage(lang string) bool {
	_, ok := c.getLanguage(lang)
	return ok
}

// Close releases any resources.
func (c *Chunker) Close() error {
	return nil
}

// Chunk splits a file into semantic chunks based on AST structure.
// Each function, method and class becomes one chunk. Methods carry
// their enclosing type in ParentName.
func (c *Chunker) Chunk(file *types.SourceFile) ([]*types.Chunk, error) {
	language, ok := c.getLanguage(file.Language)
	if !ok {
		return nil, fmt.Errorf("%w: language %s not supported by tree-sitter", types.ErrChunkingFailed, file.Language)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(language)
	defer parser.Close()

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(file.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", types.ErrChunkingFailed, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%w: syntax errors in %s", types.ErrChunkingFailed, file.Path)
	}

	content := file.Content
	imports := c.collectImports(root, content, file.Language)

	var chunks []*types.Chunk
	c.walkNode(root, file, content, imports, &chunks, "")

	// Whole file as a single module chunk when nothing structural was found
	if len(chunks) == 0 && len(strings.TrimSpace(content)) > 0 {
		chunk := &types.Chunk{
			RepositoryID: file.RepositoryID,
			FilePath:     file.Path,
			Language:     file.Language,
			UnitKind:     types.UnitModule,
			Name:         moduleName(file.Path),
			StartLine:    1,
			EndLine:      strings.Count(content, "\n") + 1,
			Content:      content,
			Imports:      imports,
			Symbols:      c.collectSymbols(root, content, ""),
		}
		chunk.ID = chunk.GenerateID()
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// walkNode recursively walks the AST to extract chunks.
func (c *Chunker) walkNode(node *sitter.Node, file *types.SourceFile, content string, imports []string, chunks *[]*types.Chunk, parentName string) {
	kind, name := c.classifyNode(node, content, file.Language)

	if kind != "" {
		unitKind := kind
		if kind == types.UnitFunction && parentName != "" {
			unitKind = types.UnitMethod
		}

		chunk := &types.Chunk{
			RepositoryID: file.RepositoryID,
			FilePath:     file.Path,
			Language:     file.Language,
			UnitKind:     unitKind,
			Name:         name,
			ParentName:   parentName,
			StartLine:    int(node.StartPoint().Row) + 1,
			EndLine:      int(node.EndPoint().Row) + 1,
			Content:      content[node.StartByte():node.EndByte()],
			Signature:    c.extractSignature(node, content),
			Docstring:    c.extractDocstring(node, content, file.Language),
			Imports:      imports,
			Symbols:      c.collectSymbols(node, content, name),
		}
		chunk.ID = chunk.GenerateID()
		*chunks = append(*chunks, chunk)

		// Classes also yield their methods as separate chunks
		if kind == types.UnitClass {
			for i := 0; i < int(node.ChildCount()); i++ {
				c.walkNode(node.Child(i), file, content, imports, chunks, name)
			}
		}
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		c.walkNode(node.Child(i), file, content, imports, chunks, parentName)
	}
}

// classifyNode determines the unit kind and name for a node.
func (c *Chunker) classifyNode(node *sitter.Node, content string, lang string) (types.UnitKind, string) {
	nodeType := node.Type()

	switch lang {
	case "go":
		switch nodeType {
		case "function_declaration":
			return types.UnitFunction, findChildText(node, "identifier", content)
		case "method_declaration":
			return types.UnitMethod, findChildText(node, "field_identifier", content)
		case "type_declaration":
			if spec := findChildNode(node, "type_spec"); spec != nil {
				return types.UnitClass, findChildText(spec, "type_identifier", content)
			}
		}
	case "python":
		switch nodeType {
		case "function_definition":
			return types.UnitFunction, findChildText(node, "identifier", content)
		case "class_definition":
			return types.UnitClass, findChildText(node, "identifier", content)
		case "decorated_definition":
			// Classify by the wrapped definition but chunk the whole
			// decorated node so decorators stay with their target.
			if def := findChildNode(node, "function_definition"); def != nil {
				return types.UnitFunction, findChildText(def, "identifier", content)
			}
			if def := findChildNode(node, "class_definition"); def != nil {
				return types.UnitClass, findChildText(def, "identifier", content)
			}
		}
	case "javascript", "jsx", "typescript", "tsx":
		switch nodeType {
		case "function_declaration":
			return types.UnitFunction, findChildText(node, "identifier", content)
		case "class_declaration":
			name := findChildText(node, "identifier", content)
			if name == "" {
				name = findChildText(node, "type_identifier", content)
			}
			return types.UnitClass, name
		case "method_definition":
			return types.UnitFunction, findChildText(node, "property_identifier", content)
		case "interface_declaration":
			return types.UnitClass, findChildText(node, "type_identifier", content)
		case "arrow_function":
			if parent := node.Parent(); parent != nil && parent.Type() == "variable_declarator" {
				if name := findChildText(parent, "identifier", content); name != "" {
					return types.UnitFunction, name
				}
			}
		}
	case "java":
		switch nodeType {
		case "method_declaration":
			return types.UnitFunction, findChildText(node, "identifier", content)
		case "constructor_declaration":
			return types.UnitFunction, findChildText(node, "identifier", content)
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			return types.UnitClass, findChildText(node, "identifier", content)
		}
	}
	return "", ""
}

// bodyNodeTypes are the node types that mark the start of a definition
// body across supported grammars.
var bodyNodeTypes = []string{"block", "statement_block", "class_body", "interface_body", "enum_body", "function_body"}

// extractSignature returns the declaration text up to the body.
func (c *Chunker) extractSignature(node *sitter.Node, content string) string {
	for _, bodyType := range bodyNodeTypes {
		if body := findChildNode(node, bodyType); body != nil {
			sig := content[node.StartByte():body.StartByte()]
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sig), ":"))
		}
	}
	// No body found: first line of the node
	text := content[node.StartByte():node.EndByte()]
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// extractDocstring returns the documentation attached to a definition:
// leading comment lines, or the docstring expression for Python.
func (c *Chunker) extractDocstring(node *sitter.Node, content string, lang string) string {
	if lang == "python" {
		target := node
		if node.Type() == "decorated_definition" {
			if def := findChildNode(node, "function_definition"); def != nil {
				target = def
			} else if def := findChildNode(node, "class_definition"); def != nil {
				target = def
			}
		}
		if body := findChildNode(target, "block"); body != nil && body.ChildCount() > 0 {
			first := body.Child(0)
			if first.Type() == "expression_statement" && first.ChildCount() > 0 && first.Child(0).Type() == "string" {
				doc := content[first.StartByte():first.EndByte()]
				return strings.Trim(doc, "\"' \n")
			}
		}
		return ""
	}

	// Leading comment siblings directly above the definition
	var parts []string
	prev := node.PrevSibling()
	for prev != nil && (prev.Type() == "comment" || prev.Type() == "line_comment" || prev.Type() == "block_comment") {
		text := content[prev.StartByte():prev.EndByte()]
		parts = append([]string{cleanComment(text)}, parts...)
		prev = prev.PrevSibling()
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func cleanComment(text string) string {
	text = strings.TrimPrefix(text, "//")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	return strings.TrimSpace(text)
}

// collectImports extracts the file's import statements.
func (c *Chunker) collectImports(root *sitter.Node, content string, lang string) []string {
	var imports []string

	var importTypes map[string]bool
	switch lang {
	case "go":
		importTypes = map[string]bool{"import_spec": true}
	case "python":
		importTypes = map[string]bool{"import_statement": true, "import_from_statement": true}
	case "javascript", "jsx", "typescript", "tsx":
		importTypes = map[string]bool{"import_statement": true}
	case "java":
		importTypes = map[string]bool{"import_declaration": true}
	default:
		return nil
	}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if importTypes[node.Type()] {
			text := strings.TrimSpace(content[node.StartByte():node.EndByte()])
			text = strings.TrimSuffix(text, ";")
			imports = append(imports, strings.Trim(text, "\""))
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)

	return imports
}

// callNodeTypes are call expressions across supported grammars.
var callNodeTypes = map[string]bool{
	"call_expression":            true, // go, js, ts
	"call":                       true, // python
	"method_invocation":          true, // java
	"object_creation_expression": true, // java new X()
}

// collectSymbols gathers identifiers this node's subtree calls or
// instantiates, excluding the unit's own name.
func (c *Chunker) collectSymbols(node *sitter.Node, content string, ownName string) []string {
	seen := make(map[string]bool)

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if callNodeTypes[n.Type()] {
			if name := calleeName(n, content); name != "" && name != ownName {
				seen[name] = true
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)

	if len(seen) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(seen))
	for name := range seen {
		symbols = append(symbols, name)
	}
	sort.Strings(symbols)
	return symbols
}

// calleeName extracts the called identifier from a call node. For
// selector calls (pkg.Func, obj.method) only the final component is
// kept so lookups match definition names.
func calleeName(node *sitter.Node, content string) string {
	if node.ChildCount() == 0 {
		return ""
	}
	fn := node.Child(0)

	switch fn.Type() {
	case "identifier", "type_identifier":
		return content[fn.StartByte():fn.EndByte()]
	case "selector_expression", "member_expression", "attribute", "field_access":
		// Last identifier-like child
		for i := int(fn.ChildCount()) - 1; i >= 0; i-- {
			child := fn.Child(i)
			switch child.Type() {
			case "field_identifier", "property_identifier", "identifier", "attribute":
				return content[child.StartByte():child.EndByte()]
			}
		}
	}

	// Java method_invocation keeps the name as a direct child
	if name := findChildText(node, "identifier", content); name != "" {
		return name
	}
	return ""
}

// findChildText finds a child node of the given type and returns its content.
func findChildText(node *sitter.Node, childType string, content string) string {
	if child := findChildNode(node, childType); child != nil {
		return content[child.StartByte():child.EndByte()]
	}
	return ""
}

// findChildNode finds a child node of the given type.
func findChildNode(node *sitter.Node, childType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == childType {
			return child
		}
	}
	return nil
}

// moduleName derives a chunk name for whole-file chunks from the path.
func moduleName(path string) string {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return base
}

// Ensure Chunker implements ChunkingStrategy interface
var _ provider.ChunkingStrategy = (*Chunker)(nil)
