package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable is returned when the embedding provider
	// cannot produce vectors. Callers treat this as a degraded-mode
	// signal and fall back to non-semantic retrieval.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrStoreUnavailable is returned when the vector store cannot be
	// reached. The current operation aborts; committed state is intact.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrChunkingFailed is returned when a single file cannot be
	// chunked. The file is skipped; the corpus pass continues.
	ErrChunkingFailed = errors.New("chunking failed")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")
)
