// Package openai implements EmbeddingProvider using OpenAI's API.
package openai

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

// Default values
const (
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 100 // OpenAI supports up to 2048 inputs per request
)

// Model dimensions for known models
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	// Sentence-transformer models served via OpenAI-compatible APIs
	"all-MiniLM-L6-v2":      384,
	"bge-small-en-v1.5":     384,
	"nomic-embed-text":      768,
	"nomic-embed-text-v1.5": 768,
}

// Config contains OpenAI provider configuration.
type Config struct {
	Model      string
	APIKey     string // If empty, uses OPENAI_API_KEY env var
	BaseURL    string // Optional: custom API endpoint (for Azure, etc.)
	BatchSize  int
	Dimensions int // Set to 0 to use default for model
}

// Provider implements the EmbeddingProvider interface for OpenAI.
type Provider struct {
	config     Config
	client     *openai.Client
	dimensions int
	mu         sync.RWMutex
}

// New creates a new OpenAI embedding provider.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	// Get API key from config or environment
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	// Get dimensions for known models
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		if d, ok := modelDimensions[cfg.Model]; ok {
			dimensions = d
		}
	}

	return &Provider{
		config:     cfg,
		client:     client,
		dimensions: dimensions,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Embed generates embeddings for the given texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	// Process in batches
	for i := 0; i < len(texts); i += p.config.BatchSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		end := i + p.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		req := openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(p.config.Model),
		}

		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: openai: %v", types.ErrEmbeddingUnavailable, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(batch))
		}

		for j, data := range resp.Data {
			results[i+j] = data.Embedding
		}

		// Learn dimensions from the first response for unknown models
		if len(resp.Data) > 0 {
			p.mu.Lock()
			if p.dimensions == 0 {
				p.dimensions = len(resp.Data[0].Embedding)
			}
			p.mu.Unlock()
		}
	}

	return results, nil
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Warmup tests the API connection.
func (p *Provider) Warmup(ctx context.Context) error {
	if p.config.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY not set", types.ErrEmbeddingUnavailable)
	}
	_, err := p.Embed(ctx, []string{"warmup"})
	return err
}

// Close releases resources.
func (p *Provider) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
