// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInputTooLong indicates input exceeding the model's length limit.
	// Callers must pre-chunk; this is not retried.
	ErrInputTooLong = errors.New("input exceeds model length limit")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable indicates the embedding backend could not be
	// reached after exhausting retries.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
)

// Provider generates vector embeddings from text.
//
// Embeddings are deterministic for identical input and model version.
// Vectors produced by different model versions must never be compared;
// the vector index tags every entry with Model() for that reason.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Model returns the embedding model identifier and version.
	Model() string

	// Dimension returns the embedding vector length.
	Dimension() int
}
