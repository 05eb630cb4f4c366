// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	heuristicChunker "github.com/triagekit/triagekit/builtin/chunking/heuristic"
	tieredChunker "github.com/triagekit/triagekit/builtin/chunking/tiered"
	tsChunker "github.com/triagekit/triagekit/builtin/chunking/treesitter"
	windowChunker "github.com/triagekit/triagekit/builtin/chunking/window"
	ollamaEmbed "github.com/triagekit/triagekit/builtin/embedding/ollama"
	openaiEmbed "github.com/triagekit/triagekit/builtin/embedding/openai"
	"github.com/triagekit/triagekit/builtin/vectorstore/sqlitevec"
	"github.com/triagekit/triagekit/pkg/provider"
)

func init() {
	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	// Register chunking strategies
	provider.RegisterChunking("tiered", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return tieredChunker.New(tieredChunker.Config{
			MaxChunkSize: cfg.MaxChunkSize,
			WindowLines:  cfg.WindowLines,
			OverlapLines: cfg.OverlapLines,
		}), nil
	})

	provider.RegisterChunking("treesitter", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return tsChunker.New(tsChunker.Config{
			MaxChunkSize: cfg.MaxChunkSize,
		}), nil
	})

	provider.RegisterChunking("heuristic", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return heuristicChunker.New(heuristicChunker.Config{
			MaxChunkSize: cfg.MaxChunkSize,
		}), nil
	})

	provider.RegisterChunking("window", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return windowChunker.New(windowChunker.Config{
			WindowLines:  cfg.WindowLines,
			OverlapLines: cfg.OverlapLines,
		}), nil
	})

	// Register vector stores
	provider.RegisterVectorStore("sqlitevec", func(cfg provider.VectorStoreConfig) (provider.VectorStore, error) {
		return sqlitevec.New(cfg), nil
	})
}
