package window

import (
	"fmt"
	"strings"
	"testing"

	"github.com/triagekit/triagekit/pkg/types"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestChunkWindows(t *testing.T) {
	c := New(Config{WindowLines: 10, OverlapLines: 2})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{
		RepositoryID: "backend",
		Path:         "data/dump.txt",
		Content:      numberedLines(25),
		Language:     "text",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 windows, got %d", len(chunks))
	}

	first := chunks[0]
	if first.StartLine != 1 || first.EndLine != 10 {
		t.Errorf("first window range wrong: %d-%d", first.StartLine, first.EndLine)
	}
	if first.UnitKind != types.UnitFragment {
		t.Errorf("expected fragment kind, got %s", first.UnitKind)
	}

	// Consecutive windows overlap by the configured amount
	second := chunks[1]
	if second.StartLine != 9 {
		t.Errorf("expected second window to start at 9, got %d", second.StartLine)
	}

	// Overlapping content present in both windows
	if !strings.Contains(first.Content, "line 9") || !strings.Contains(second.Content, "line 9") {
		t.Error("overlap lines missing from windows")
	}

	// IDs stable across runs
	again, err := c.Chunk(&types.SourceFile{
		RepositoryID: "backend",
		Path:         "data/dump.txt",
		Content:      numberedLines(25),
		Language:     "text",
	})
	if err != nil {
		t.Fatal(err)
	}
	if again[0].ID != first.ID {
		t.Errorf("window IDs not stable: %s vs %s", again[0].ID, first.ID)
	}
}

func TestChunkShortFile(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{Path: "short.txt", Content: "one\ntwo\n", Language: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 window, got %d", len(chunks))
	}
}

func TestChunkEmpty(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	chunks, err := c.Chunk(&types.SourceFile{Path: "empty.txt", Content: "", Language: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}
