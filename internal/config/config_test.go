package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, "ollama")
	}
	if cfg.Chunking.Strategy != "tiered" {
		t.Errorf("Chunking.Strategy = %q, want %q", cfg.Chunking.Strategy, "tiered")
	}
	if cfg.History.ContextThreshold != 0.70 {
		t.Errorf("History.ContextThreshold = %v, want 0.70", cfg.History.ContextThreshold)
	}
	if cfg.Retrieval.ContextBudget != 15 {
		t.Errorf("Retrieval.ContextBudget = %d, want 15", cfg.Retrieval.ContextBudget)
	}
	if cfg.History.DuplicateThreshold != 0.90 {
		t.Errorf("History.DuplicateThreshold = %v, want 0.90", cfg.History.DuplicateThreshold)
	}
	if errs := Validate(cfg); len(errs) > 0 {
		t.Errorf("Validate(DefaultConfig()) = %v, want no errors", errs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"openai provider", func(c *Config) { c.Embedding.Provider = "openai" }, false},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "voyage" }, true},
		{"bad strategy", func(c *Config) { c.Chunking.Strategy = "simple" }, true},
		{"bad store", func(c *Config) { c.VectorStore.Provider = "pgvector" }, true},
		{"threshold out of range", func(c *Config) { c.History.ContextThreshold = 1.5 }, true},
		{"duplicate out of range", func(c *Config) { c.History.DuplicateThreshold = -0.1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			errs := Validate(cfg)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("Validate() errs = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, warnings, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(warnings) == 0 {
		t.Error("Load() expected a warning about missing config")
	}
	if cfg.Chunking.Strategy != "tiered" {
		t.Errorf("Chunking.Strategy = %q, want default %q", cfg.Chunking.Strategy, "tiered")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(ConfigDir(dir), 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "embedding:\n  provider: openai\n  model: text-embedding-3-small\nretrieval:\n  timeout: 5s\n"
	if err := os.WriteFile(ConfigPath(dir), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, "openai")
	}
	if cfg.Retrieval.Timeout != 5*time.Second {
		t.Errorf("Retrieval.Timeout = %v, want 5s", cfg.Retrieval.Timeout)
	}
	// Unset sections keep their defaults.
	if cfg.Retrieval.ContextBudget != 15 {
		t.Errorf("Retrieval.ContextBudget = %d, want 15", cfg.Retrieval.ContextBudget)
	}
	if cfg.History.DuplicateThreshold != 0.90 {
		t.Errorf("History.DuplicateThreshold = %v, want 0.90", cfg.History.DuplicateThreshold)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Embedding.Model = "bge-small-en-v1.5"

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Embedding.Model != "bge-small-en-v1.5" {
		t.Errorf("Embedding.Model = %q, want %q", loaded.Embedding.Model, "bge-small-en-v1.5")
	}
}

func TestHashChangesWithChunking(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if a.Hash() != b.Hash() {
		t.Error("identical configs should hash equal")
	}
	b.Chunking.MaxChunkSize = 4000
	if a.Hash() == b.Hash() {
		t.Error("changing chunk size should change hash")
	}
}

func TestCopyIsDeep(t *testing.T) {
	a := DefaultConfig()
	b := a.Copy()
	b.Index.Include[0] = "**/*.zig"
	if a.Index.Include[0] == "**/*.zig" {
		t.Error("Copy() shares Include slice with original")
	}
}
