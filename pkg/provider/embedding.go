// Package provider defines interfaces for pluggable components.
package provider

import (
	"context"
)

// EmbeddingProvider generates vector embeddings from text.
//
// Implementations must be deterministic for identical input and safe for
// concurrent use once warmed up. Any internal model state is loaded
// lazily on first use and released only by Close.
type EmbeddingProvider interface {
	// Name returns the provider name (e.g., "ollama", "openai").
	Name() string

	// Embed generates embeddings for the given texts.
	// Returns one embedding per input text, in order. A provider that
	// cannot be reached returns an error wrapping
	// types.ErrEmbeddingUnavailable.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension size.
	Dimensions() int

	// MaxBatchSize returns the maximum number of texts per batch.
	MaxBatchSize() int

	// Warmup pre-loads the model or verifies connectivity.
	Warmup(ctx context.Context) error

	// Close releases any resources.
	Close() error
}

// EmbeddingConfig contains configuration for embedding providers.
type EmbeddingConfig struct {
	Provider  string // "ollama", "openai"
	Model     string // Model name
	Endpoint  string // API endpoint
	APIKey    string // API key (for OpenAI-compatible APIs)
	BatchSize int    // Texts per batch
}
