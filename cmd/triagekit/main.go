// triagekit indexes source corpora and past defect analyses, and serves
// hybrid retrieval for incoming defect reports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/triagekit/triagekit/builtin"
	"github.com/triagekit/triagekit/internal/config"
	"github.com/triagekit/triagekit/internal/corpus"
	"github.com/triagekit/triagekit/internal/history"
	"github.com/triagekit/triagekit/internal/index"
	"github.com/triagekit/triagekit/internal/retrieve"
	"github.com/triagekit/triagekit/pkg/provider"
	"github.com/triagekit/triagekit/pkg/types"
)

var (
	version   = "0.1.0"
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triagekit",
	Short: "Semantic indexing and hybrid retrieval for defect triage",
	Long: `triagekit maintains a semantic index of one or more source
repositories plus a log of past defect analyses, and answers incoming
defect reports with the code most likely involved.

It supports:
- Incremental, fingerprint-tracked indexing
- Structural, heuristic, and windowed chunking tiers
- Hybrid retrieval: semantic, symbol, and keyword matching
- Near-duplicate suppression over the analysis history`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("triagekit %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create default configuration",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runConfigInit(argPath(args))
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository",
	Long:  `Index a repository for retrieval. If no path is provided, indexes the current directory.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo, _ := cmd.Flags().GetString("repo")
		runIndex(argPath(args), repo)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for file changes and re-index automatically",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo, _ := cmd.Flags().GetString("repo")
		runWatch(argPath(args), repo)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <defect text>",
	Short: "Retrieve code context for a defect description",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo, _ := cmd.Flags().GetString("repo")
		limit, _ := cmd.Flags().GetInt("limit")
		runSearch(strings.Join(args, " "), repo, limit)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Analysis history management",
}

var historyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Log a completed defect analysis",
	Run: func(cmd *cobra.Command, args []string) {
		issue, _ := cmd.Flags().GetString("issue")
		summary, _ := cmd.Flags().GetString("summary")
		description, _ := cmd.Flags().GetString("description")
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		findingsPath, _ := cmd.Flags().GetString("findings")
		runHistoryLog(issue, summary, description, status, priority, findingsPath)
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find similar past analyses",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runHistorySearch(strings.Join(args, " "))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		runStatus(verbose)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <repository>",
	Short: "Remove one repository's chunks and fingerprints",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runClear(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	indexCmd.Flags().String("repo", "", "repository id (default: directory name)")
	watchCmd.Flags().String("repo", "", "repository id (default: directory name)")

	searchCmd.Flags().String("repo", "", "restrict retrieval to one repository")
	searchCmd.Flags().IntP("limit", "l", 0, "maximum chunks (default: configured budget)")

	historyLogCmd.Flags().String("issue", "", "issue tracker id (e.g. A-17)")
	historyLogCmd.Flags().String("summary", "", "one-line analysis summary")
	historyLogCmd.Flags().String("description", "", "full analysis text")
	historyLogCmd.Flags().String("status", "analyzed", "issue status")
	historyLogCmd.Flags().String("priority", "", "issue priority")
	historyLogCmd.Flags().String("findings", "", "path to a JSON findings file")
	historyLogCmd.MarkFlagRequired("issue")
	historyLogCmd.MarkFlagRequired("summary")

	statusCmd.Flags().BoolP("verbose", "v", false, "show detailed statistics")

	historyCmd.AddCommand(historyLogCmd)
	historyCmd.AddCommand(historySearchCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
}

func argPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// createProviders resolves the configured store, embedder, and chunker
// from the registry.
func createProviders(cfg *config.Config, dbPath string) (provider.VectorStore, provider.EmbeddingProvider, provider.ChunkingStrategy, error) {
	embedding, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, provider.EmbeddingConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	// The dimension lets the store keep serving vectors persisted by a
	// previous run; providers that auto-detect report 0 and the store
	// recovers the dimension from its own metadata.
	store, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider:  cfg.VectorStore.Provider,
		Path:      dbPath,
		Dimension: embedding.Dimensions(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating vector store: %w", err)
	}

	chunker, err := provider.DefaultRegistry.CreateChunking(cfg.Chunking.Strategy, provider.ChunkingConfig{
		Strategy:     cfg.Chunking.Strategy,
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		WindowLines:  cfg.Chunking.WindowLines,
		OverlapLines: cfg.Chunking.OverlapLines,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating chunker: %w", err)
	}

	return store, embedding, chunker, nil
}

func runConfigInit(path string) {
	absPath, _ := filepath.Abs(path)
	configPath := config.ConfigPath(absPath)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return
	}

	cfg := config.DefaultConfig()
	if err := config.Save(absPath, cfg); err != nil {
		slog.Error("failed to write config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Review the embedding section, then run 'triagekit index'.")
}

func runIndex(path, repo string) {
	absPath, _ := filepath.Abs(path)
	slog.Info("indexing", "path", absPath)

	cfg, warnings, err := config.Load(absPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}

	store, embedding, chunker, err := createProviders(cfg, config.IndexDBPath(absPath))
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received interrupt signal, stopping", "signal", sig)
		cancel()
	}()

	defer func() {
		signal.Stop(sigChan)
		store.Close()
		embedding.Close()
		chunker.Close()
	}()

	if err := store.Init(config.IndexDBPath(absPath)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	if err := embedding.Warmup(ctx); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}

	source, err := corpus.NewFSSource(corpus.FSConfig{
		Root:         absPath,
		RepositoryID: repo,
		Include:      cfg.Index.Include,
		Exclude:      cfg.Index.Exclude,
		MaxFileSize:  cfg.Limits.MaxFileSize,
		MaxFiles:     cfg.Limits.MaxFiles,
	})
	if err != nil {
		slog.Error("failed to open corpus", "error", err)
		os.Exit(1)
	}

	files, err := source.Files(ctx)
	if err != nil {
		slog.Error("failed to scan corpus", "error", err)
		os.Exit(1)
	}

	indexer := index.New(index.Config{
		Store:     store,
		Embedding: embedding,
		Chunker:   chunker,
		Workers:   cfg.Limits.Workers,
		OnProgress: func(p index.Progress) {
			fmt.Printf("\r[%s] Files: %d/%d", p.Phase, p.ProcessedFiles, p.TotalFiles)
		},
	})

	report, err := indexer.Sync(ctx, source.RepositoryID(), files)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("indexing stopped by user")
			fmt.Println("\nIndexing interrupted. Fingerprints saved - run again to resume.")
			return
		}
		slog.Error("indexing failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("\nIndexing complete!")
	fmt.Printf("Indexed: %d, Unchanged: %d, Removed: %d, Failed: %d\n",
		report.FilesIndexed, report.FilesUnchanged, report.FilesRemoved, report.FilesFailed)
	fmt.Printf("Chunks upserted: %d, deleted: %d (%s)\n",
		report.ChunksUpserted, report.ChunksDeleted, report.Duration.Round(1e6))
	for _, sk := range report.Skipped {
		fmt.Printf("  skipped %s: %s\n", sk.Path, sk.Reason)
	}
}

func runWatch(path, repo string) {
	absPath, _ := filepath.Abs(path)

	cfg, _, err := config.Load(absPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, embedding, chunker, err := createProviders(cfg, config.IndexDBPath(absPath))
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()
	defer chunker.Close()

	if err := store.Init(config.IndexDBPath(absPath)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	source, err := corpus.NewFSSource(corpus.FSConfig{
		Root:         absPath,
		RepositoryID: repo,
		Include:      cfg.Index.Include,
		Exclude:      cfg.Index.Exclude,
		MaxFileSize:  cfg.Limits.MaxFileSize,
		MaxFiles:     cfg.Limits.MaxFiles,
	})
	if err != nil {
		slog.Error("failed to open corpus", "error", err)
		os.Exit(1)
	}

	indexer := index.New(index.Config{
		Store:     store,
		Embedding: embedding,
		Chunker:   chunker,
		Workers:   cfg.Limits.Workers,
	})

	watcher, err := corpus.NewWatcher(corpus.WatcherConfig{
		Source: source,
		Handler: func(ctx context.Context, paths []string) {
			var changed []*types.SourceFile
			var removed []string
			for _, rel := range paths {
				file, err := source.Load(rel)
				if os.IsNotExist(err) {
					removed = append(removed, rel)
					continue
				}
				if err != nil {
					slog.Warn("failed to read changed file", "file", rel, "error", err)
					continue
				}
				changed = append(changed, file)
			}

			if len(changed) > 0 {
				if _, err := indexer.IndexFiles(ctx, changed); err != nil {
					slog.Warn("re-index failed", "error", err)
				}
			}
			if len(removed) > 0 {
				if _, err := indexer.RemoveFiles(ctx, source.RepositoryID(), removed); err != nil {
					slog.Warn("removal cleanup failed", "error", err)
				}
			}
		},
	})
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Watch(ctx); err != nil {
		slog.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}

func runSearch(query, repo string, limit int) {
	cwd, _ := os.Getwd()

	cfg, _, err := config.Load(cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, embedding, _, err := createProviders(cfg, config.IndexDBPath(cwd))
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	if err := store.Init(config.IndexDBPath(cwd)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	budget := cfg.Retrieval.ContextBudget
	if limit > 0 {
		budget = limit
	}

	retriever := retrieve.New(retrieve.Config{
		Store:           store,
		Embedding:       embedding,
		CandidateLimit:  cfg.Retrieval.CandidateLimit,
		ContextBudget:   budget,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		Timeout:         cfg.Retrieval.Timeout,
	})

	result, err := retriever.Retrieve(context.Background(), &types.DefectReport{
		Summary:      query,
		RepositoryID: repo,
	})
	if err != nil {
		slog.Error("retrieval failed", "error", err)
		os.Exit(1)
	}

	if result.IsDegraded() {
		fmt.Printf("Warning: degraded lanes: %v\n", result.Degraded)
	}
	if len(result.Matches) == 0 {
		fmt.Println("No matching code found")
		return
	}

	for i, m := range result.Matches {
		c := m.Chunk
		fmt.Printf("\n=== Match %d (score: %.3f) ===\n", i+1, m.Score)
		fmt.Printf("File: %s:%d-%d [%s]\n", c.FilePath, c.StartLine, c.EndLine, c.RepositoryID)
		if c.Name != "" {
			fmt.Printf("Name: %s (%s)\n", c.Name, c.UnitKind)
		}
		fmt.Printf("Why:  %s\n", m.Explanation)
		fmt.Printf("\n%s\n", c.Content)
	}
}

func runHistoryLog(issue, summary, description, status, priority, findingsPath string) {
	cwd, _ := os.Getwd()

	cfg, _, err := config.Load(cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, embedding, _, err := createProviders(cfg, config.IndexDBPath(cwd))
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	if err := store.Init(config.IndexDBPath(cwd)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	var findings []types.Finding
	if findingsPath != "" {
		data, err := os.ReadFile(findingsPath)
		if err != nil {
			slog.Error("failed to read findings file", "error", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(data, &findings); err != nil {
			slog.Error("invalid findings JSON", "error", err)
			os.Exit(1)
		}
	}

	mgr := history.New(history.Config{
		Store:              store,
		Embedding:          embedding,
		DuplicateThreshold: cfg.History.DuplicateThreshold,
		ContextThreshold:   cfg.History.ContextThreshold,
		SimilarLimit:       cfg.History.SimilarLimit,
	})

	result, err := mgr.Log(context.Background(), &types.AnalysisEntry{
		IssueID:     issue,
		Summary:     summary,
		Description: description,
		Status:      status,
		Priority:    priority,
		Findings:    findings,
	})
	if err != nil {
		slog.Error("failed to log analysis", "error", err)
		os.Exit(1)
	}

	if result.Suppressed {
		fmt.Printf("Not logged: duplicates entry %s (similarity %.3f)\n",
			result.DuplicateOf, result.Similarity)
		return
	}
	fmt.Printf("Logged analysis %s for issue %s\n", result.Entry.ID, issue)
}

func runHistorySearch(query string) {
	cwd, _ := os.Getwd()

	cfg, _, err := config.Load(cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, embedding, _, err := createProviders(cfg, config.IndexDBPath(cwd))
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	if err := store.Init(config.IndexDBPath(cwd)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	mgr := history.New(history.Config{
		Store:              store,
		Embedding:          embedding,
		DuplicateThreshold: cfg.History.DuplicateThreshold,
		ContextThreshold:   cfg.History.ContextThreshold,
		SimilarLimit:       cfg.History.SimilarLimit,
	})

	results, err := mgr.SearchSimilar(context.Background(), query)
	if err != nil {
		slog.Error("history search failed", "error", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No similar past analyses")
		return
	}

	for i, r := range results {
		e := r.Entry
		fmt.Printf("\n=== %d. %s (score: %.3f) ===\n", i+1, e.IssueID, r.Score)
		fmt.Printf("Summary: %s\n", e.Summary)
		if e.Status != "" {
			fmt.Printf("Status:  %s\n", e.Status)
		}
		for _, f := range e.Findings {
			fmt.Printf("  - %s:%s %s\n", f.File, f.Lines, f.Issue)
		}
	}
}

func runStatus(verbose bool) {
	cwd, _ := os.Getwd()

	cfg, _, err := config.Load(cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider: cfg.VectorStore.Provider,
	})
	if err != nil {
		slog.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	dbPath := config.IndexDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No index found. Run 'triagekit index' to create one.")
		return
	}
	if err := store.Init(dbPath); err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		slog.Error("failed to get stats", "error", err)
		os.Exit(1)
	}

	fmt.Println("=== Index Status ===")
	fmt.Printf("Indexed files:   %d\n", stats.IndexedFiles)
	fmt.Printf("Total chunks:    %d\n", stats.TotalChunks)
	fmt.Printf("History entries: %d\n", stats.HistoryEntries)
	fmt.Printf("Database size:   %s\n", formatBytes(stats.DBSizeBytes))
	if !stats.LastIndexed.IsZero() {
		fmt.Printf("Last indexed:    %s\n", stats.LastIndexed.Format("2006-01-02 15:04:05"))
	}

	if verbose {
		if len(stats.ByLanguage) > 0 {
			fmt.Println("\nChunks by language:")
			for lang, count := range stats.ByLanguage {
				fmt.Printf("  %-12s %d\n", lang, count)
			}
		}
		if len(stats.ByUnitKind) > 0 {
			fmt.Println("\nChunks by unit kind:")
			for kind, count := range stats.ByUnitKind {
				fmt.Printf("  %-12s %d\n", kind, count)
			}
		}
		fmt.Println("\n=== Current Config ===")
		fmt.Printf("Embedding: %s/%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)
		fmt.Printf("Chunking:  %s\n", cfg.Chunking.Strategy)
	}
}

func runClear(repo string) {
	cwd, _ := os.Getwd()

	cfg, _, err := config.Load(cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, embedding, chunker, err := createProviders(cfg, config.IndexDBPath(cwd))
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()
	defer chunker.Close()

	if err := store.Init(config.IndexDBPath(cwd)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	indexer := index.New(index.Config{Store: store, Embedding: embedding, Chunker: chunker})
	deleted, err := indexer.ClearRepository(context.Background(), repo)
	if err != nil {
		slog.Error("clear failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Cleared repository %s (%d chunks)\n", repo, deleted)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
