// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration.
type Config struct {
	Embedding   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Chunking    ChunkingConfig    `mapstructure:"chunking" yaml:"chunking"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore" yaml:"vectorstore"`
	Index       IndexConfig       `mapstructure:"index" yaml:"index"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`     // ollama, openai
	Model     string `mapstructure:"model" yaml:"model"`           // model name
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`     // API endpoint
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"` // documents per batch
}

// ChunkingConfig contains chunking strategy configuration.
type ChunkingConfig struct {
	Strategy     string `mapstructure:"strategy" yaml:"strategy"`             // tiered, treesitter, heuristic, window
	MaxChunkSize int    `mapstructure:"max_chunk_size" yaml:"max_chunk_size"` // max chars per chunk
	WindowLines  int    `mapstructure:"window_lines" yaml:"window_lines"`     // lines per fallback window
	OverlapLines int    `mapstructure:"overlap_lines" yaml:"overlap_lines"`   // overlap between windows
}

// VectorStoreConfig contains vector store configuration.
type VectorStoreConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlitevec
}

// IndexConfig contains indexing configuration.
type IndexConfig struct {
	Include []string `mapstructure:"include" yaml:"include"` // glob patterns to include
	Exclude []string `mapstructure:"exclude" yaml:"exclude"` // glob patterns to exclude
}

// RetrievalConfig contains hybrid retrieval configuration.
type RetrievalConfig struct {
	ContextBudget   int           `mapstructure:"context_budget" yaml:"context_budget"`       // max chunks per retrieval
	MaxContextChars int           `mapstructure:"max_context_chars" yaml:"max_context_chars"` // total char budget
	CandidateLimit  int           `mapstructure:"candidate_limit" yaml:"candidate_limit"`     // semantic candidates per query
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`                     // retrieval deadline
}

// HistoryConfig contains triage history configuration.
type HistoryConfig struct {
	DuplicateThreshold float32 `mapstructure:"duplicate_threshold" yaml:"duplicate_threshold"` // similarity above which an entry is a duplicate
	ContextThreshold   float32 `mapstructure:"context_threshold" yaml:"context_threshold"`     // min similarity for search results
	SimilarLimit       int     `mapstructure:"similar_limit" yaml:"similar_limit"`             // max similar entries returned
}

// LimitsConfig contains resource limits.
type LimitsConfig struct {
	MaxFileSize int64         `mapstructure:"max_file_size" yaml:"max_file_size"` // bytes
	MaxFiles    int           `mapstructure:"max_files" yaml:"max_files"`         // max files to index
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`             // indexing timeout
	Workers     int           `mapstructure:"workers" yaml:"workers"`             // parallel workers
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			BatchSize: 32,
		},
		Chunking: ChunkingConfig{
			Strategy:     "tiered",
			MaxChunkSize: 2000,
			WindowLines:  80,
			OverlapLines: 3,
		},
		VectorStore: VectorStoreConfig{
			Provider: "sqlitevec",
		},
		Index: IndexConfig{
			Include: []string{
				"**/*.go", "**/*.py", "**/*.js", "**/*.mjs", "**/*.cjs", "**/*.ts",
				"**/*.jsx", "**/*.tsx", "**/*.rs", "**/*.java",
				"**/*.c", "**/*.cpp", "**/*.cc", "**/*.h", "**/*.hpp",
				"**/*.rb", "**/*.php", "**/*.cs", "**/*.kt", "**/*.kts",
				"**/*.swift", "**/*.scala",
				"**/*.sql", "**/*.sh", "**/*.bash",
				"**/*.yaml", "**/*.yml", "**/*.toml", "**/*.md",
				"**/Dockerfile",
			},
			Exclude: []string{
				"**/vendor/**", "**/node_modules/**", "**/.git/**",
				"**/dist/**", "**/build/**", "**/target/**", "**/bin/**", "**/obj/**",
				"**/*.min.js", "**/*.min.css", "**/*.generated.*",
				"**/package-lock.json", "**/yarn.lock", "**/pnpm-lock.yaml",
				"**/go.sum", "**/Cargo.lock", "**/composer.lock",
			},
		},
		Retrieval: RetrievalConfig{
			ContextBudget:   15,
			MaxContextChars: 60000,
			CandidateLimit:  50,
			Timeout:         10 * time.Second,
		},
		History: HistoryConfig{
			DuplicateThreshold: 0.90,
			ContextThreshold:   0.70,
			SimilarLimit:       3,
		},
		Limits: LimitsConfig{
			MaxFileSize: 1 << 20,
			MaxFiles:    50000,
			Timeout:     30 * time.Minute,
			Workers:     0, // 0 = use runtime.NumCPU()
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to the .triagekit directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".triagekit")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// IndexDBPath returns the path to index.db.
func IndexDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "index.db")
}

// Load loads configuration from file, falling back to defaults.
func Load(projectRoot string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	configPath := ConfigPath(projectRoot)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
		warnings = append(warnings, "Using default embedding provider: ollama")
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}

	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "tiered"
	}
	if cfg.Chunking.MaxChunkSize == 0 {
		cfg.Chunking.MaxChunkSize = 2000
	}
	if cfg.Chunking.WindowLines == 0 {
		cfg.Chunking.WindowLines = 80
	}

	if cfg.Retrieval.ContextBudget == 0 {
		cfg.Retrieval.ContextBudget = 15
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = 60000
	}
	if cfg.Retrieval.CandidateLimit == 0 {
		cfg.Retrieval.CandidateLimit = 50
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 10 * time.Second
	}

	if cfg.History.DuplicateThreshold == 0 {
		cfg.History.DuplicateThreshold = 0.90
	}
	if cfg.History.ContextThreshold == 0 {
		cfg.History.ContextThreshold = 0.70
	}
	if cfg.History.SimilarLimit == 0 {
		cfg.History.SimilarLimit = 3
	}

	if cfg.Limits.MaxFileSize == 0 {
		cfg.Limits.MaxFileSize = 1 << 20
	}
	if cfg.Limits.MaxFiles == 0 {
		cfg.Limits.MaxFiles = 50000
	}

	return cfg, warnings, nil
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	v.Set("embedding", cfg.Embedding)
	v.Set("chunking", cfg.Chunking)
	v.Set("vectorstore", cfg.VectorStore)
	v.Set("index", cfg.Index)
	v.Set("retrieval", cfg.Retrieval)
	v.Set("history", cfg.History)
	v.Set("limits", cfg.Limits)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	validEmbeddingProviders := map[string]bool{
		"ollama": true, "openai": true,
	}
	if !validEmbeddingProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s", cfg.Embedding.Provider))
	}

	validChunkingStrategies := map[string]bool{
		"tiered": true, "treesitter": true, "heuristic": true, "window": true,
	}
	if !validChunkingStrategies[cfg.Chunking.Strategy] {
		errs = append(errs, fmt.Errorf("invalid chunking strategy: %s", cfg.Chunking.Strategy))
	}

	if cfg.VectorStore.Provider != "" && cfg.VectorStore.Provider != "sqlitevec" {
		errs = append(errs, fmt.Errorf("invalid vector store provider: %s", cfg.VectorStore.Provider))
	}

	if cfg.History.ContextThreshold < 0 || cfg.History.ContextThreshold > 1 {
		errs = append(errs, fmt.Errorf("context_threshold must be in [0,1], got %v", cfg.History.ContextThreshold))
	}
	if cfg.History.DuplicateThreshold < 0 || cfg.History.DuplicateThreshold > 1 {
		errs = append(errs, fmt.Errorf("duplicate_threshold must be in [0,1], got %v", cfg.History.DuplicateThreshold))
	}

	return errs
}

// Hash returns a hash of configuration that affects indexing.
// Used for detecting when reindexing is needed.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%s:%d:%d:%d",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.Chunking.Strategy,
		c.Chunking.MaxChunkSize,
		c.Chunking.WindowLines,
		c.Chunking.OverlapLines,
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Copy creates a deep copy of the config.
// Used for runtime modifications without affecting the original.
func (c *Config) Copy() *Config {
	copy := *c

	if c.Index.Include != nil {
		copy.Index.Include = make([]string, len(c.Index.Include))
		for i, v := range c.Index.Include {
			copy.Index.Include[i] = v
		}
	}
	if c.Index.Exclude != nil {
		copy.Index.Exclude = make([]string, len(c.Index.Exclude))
		for i, v := range c.Index.Exclude {
			copy.Index.Exclude[i] = v
		}
	}

	return &copy
}
