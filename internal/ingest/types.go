// Package ingest runs documents through the chunk, embed, index pipeline
// and tracks per-document ingestion state.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig indicates invalid pipeline configuration.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnsupportedContentType indicates a content type the pipeline
	// cannot ingest. Extraction from binary formats happens upstream.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrDocumentNotFound indicates no ingestion status exists for a document.
	ErrDocumentNotFound = errors.New("document not found")
)

// State is a document's position in the ingestion pipeline.
type State string

const (
	StateReceived  State = "received"
	StateChunking  State = "chunking"
	StateEmbedding State = "embedding"
	StateIndexing  State = "indexing"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// Tags carries visibility metadata attached to a document's chunks.
type Tags struct {
	// Roles restricts visibility to the listed caller roles.
	// Empty means visible to all roles.
	Roles []string `json:"roles,omitempty"`

	// Language is a BCP 47 language tag, e.g. "en".
	Language string `json:"language,omitempty"`
}

// Document is an ingestion request: a reference plus inline plain text.
type Document struct {
	// ID identifies the document across versions.
	ID string `json:"id"`

	// Source is a human-readable origin, used as the citation tag.
	Source string `json:"source"`

	// ContentType of the inline content. Only "text/plain" and
	// "text/markdown" are accepted; richer formats are extracted upstream.
	ContentType string `json:"content_type"`

	// Version distinguishes revisions of the same document. When empty
	// the pipeline derives it from the content checksum.
	Version string `json:"version,omitempty"`

	// Tags control chunk visibility at retrieval time.
	Tags Tags `json:"tags,omitempty"`
}

// Status is the persisted ingestion record for one document version.
type Status struct {
	DocumentID    string    `json:"document_id"`
	Version       string    `json:"version"`
	State         State     `json:"state"`
	Checksum      string    `json:"checksum"`
	ChunksTotal   int       `json:"chunks_total"`
	ChunksIndexed int       `json:"chunks_indexed"`
	FailedChunks  []int     `json:"failed_chunks,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Report summarizes one Ingest call.
type Report struct {
	DocumentID    string
	Version       string
	State         State
	ChunksTotal   int
	ChunksIndexed int
	FailedChunks  []int

	// NoOp is true when the version was already Ready with a matching
	// checksum and the pipeline did nothing.
	NoOp bool
}

// Checksum returns the hex SHA-256 of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EntryID builds the deterministic vector store ID for one chunk.
// Chunk IDs embed the version so old and new revisions coexist in the
// index until the swap completes.
func EntryID(documentID, version string, chunkIndex int) string {
	return fmt.Sprintf("%s@%s#%d", documentID, version, chunkIndex)
}
