// Package vectorstore defines the interface for vector index operations.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyEntries indicates empty or nil entries.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrIndexUnavailable indicates the index could not be reached.
	// Retrieval treats this as "no context available", not a fatal failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrModelVersionMismatch indicates an attempt to compare vectors
	// produced by different embedding model versions.
	ErrModelVersionMismatch = errors.New("embedding model version mismatch")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Reserved metadata keys used by store implementations.
const (
	// MetaDocumentID is the parent document identifier of a chunk entry.
	MetaDocumentID = "document_id"

	// MetaDocumentVersion is the ingestion version of the parent document.
	MetaDocumentVersion = "document_version"

	// MetaChunkIndex is the ordinal index of the chunk within the document.
	MetaChunkIndex = "chunk_index"

	// MetaSource is the source location of the parent document.
	MetaSource = "source"

	// MetaRoles is a comma-separated list of roles allowed to retrieve the
	// entry. An empty or absent value means visible to every role.
	MetaRoles = "roles"

	// MetaLanguage is the entry's language tag.
	MetaLanguage = "language"
)

// Entry is one vector plus its text and metadata, as stored in the index.
type Entry struct {
	// ID is the unique identifier for the entry.
	ID string

	// Vector is the embedding for Content.
	Vector []float32

	// Content is the chunk text the vector was produced from.
	Content string

	// ModelVersion is the embedding model identifier/version that produced
	// Vector. Entries and queries with different versions never mix.
	ModelVersion string

	// Metadata contains additional key-value pairs for filtering.
	Metadata map[string]string
}

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	// ID is the entry identifier.
	ID string

	// Content is the entry text content.
	Content string

	// Score is the cosine similarity in [-1, 1], higher = more similar.
	// Retrieval thresholds are expected to sit well above 0.
	Score float32

	// Metadata contains the entry metadata.
	Metadata map[string]string
}

// Store is the interface for vector index operations.
//
// Implementations must use cosine similarity, return results in descending
// score order with ties broken by insertion order, and tag every entry with
// its embedding model version. Search rejects queries whose model version
// differs from the index's (ErrModelVersionMismatch).
//
// Implementations:
//   - ChromemStore: embedded chromem-go, exact search (reference)
//   - QdrantStore: external Qdrant gRPC client, HNSW approximate search
type Store interface {
	// Upsert inserts or atomically replaces entries by ID. A concurrent
	// Search never observes a partially written entry.
	Upsert(ctx context.Context, entries []Entry) error

	// Delete removes entries by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Search returns up to k nearest entries for the query vector,
	// restricted by metadata filters. The MetaRoles filter key matches
	// entries listing the role or entries visible to every role.
	Search(ctx context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}
