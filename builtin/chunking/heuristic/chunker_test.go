package heuristic

import (
	"strings"
	"testing"

	"github.com/triagekit/triagekit/pkg/types"
)

const rubySource = `require 'json'

class SessionStore
  def fetch(token)
    @sessions[token]
  end

  def purge!
    @sessions.clear
  end
end

def build_store
  SessionStore.new
end
`

func TestChunkRuby(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{
		RepositoryID: "backend",
		Path:         "store.rb",
		Content:      rubySource,
		Language:     "ruby",
	})
	if err != nil {
		t.Fatal(err)
	}

	names := make(map[string]types.UnitKind)
	for _, chunk := range chunks {
		names[chunk.Name] = chunk.UnitKind
	}

	if names["SessionStore"] != types.UnitClass {
		t.Errorf("SessionStore not detected as class: %v", names)
	}
	if names["fetch"] != types.UnitFunction {
		t.Errorf("fetch not detected: %v", names)
	}
	if names["purge!"] != types.UnitFunction {
		t.Errorf("purge! not detected: %v", names)
	}
	if names["build_store"] != types.UnitFunction {
		t.Errorf("build_store not detected: %v", names)
	}

	// Preamble becomes a module chunk
	if names["store.rb"] != types.UnitModule {
		t.Errorf("preamble not chunked as module: %v", names)
	}
}

func TestChunkNoDefinitions(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{
		Path:     "notes.txt",
		Content:  "just some notes\nspread over lines\n",
		Language: "text",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected single module chunk, got %d", len(chunks))
	}
	if chunks[0].UnitKind != types.UnitModule {
		t.Errorf("expected module kind, got %s", chunks[0].UnitKind)
	}
	if chunks[0].Name != "notes.txt" {
		t.Errorf("expected file name as chunk name, got %s", chunks[0].Name)
	}
}

func TestChunkEmptyFile(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{Path: "empty.go", Content: "  \n\n", Language: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for blank file, got %d", len(chunks))
	}
}

func TestChunkSignatureLine(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{
		Path:     "lib.rs",
		Content:  "pub fn parse_config(path: &str) -> Config {\n    todo!()\n}\n",
		Language: "rust",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Name != "parse_config" {
		t.Errorf("expected parse_config, got %s", chunks[0].Name)
	}
	if !strings.Contains(chunks[0].Signature, "pub fn parse_config") {
		t.Errorf("signature not captured: %q", chunks[0].Signature)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"main.go":     "go",
		"app.py":      "python",
		"index.ts":    "typescript",
		"view.tsx":    "tsx",
		"Main.java":   "java",
		"lib.rs":      "rust",
		"Dockerfile":  "dockerfile",
		"README.md":   "markdown",
		"unknown.xyz": "text",
	}

	for path, want := range cases {
		if got := DetectLanguage(path); got != want {
			t.Errorf("DetectLanguage(%s) = %s, want %s", path, got, want)
		}
	}
}
