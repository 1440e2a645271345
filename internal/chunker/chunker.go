// Package chunker splits document text into overlapping segments sized
// for embedding and context-window budgets. Boundaries prefer sentence
// and line breaks so that chunks stay self-contained.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig indicates invalid chunker configuration.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrEmptyDocument indicates an empty or whitespace-only document.
	ErrEmptyDocument = errors.New("empty document")
)

// Config holds chunker configuration.
type Config struct {
	// ChunkSize is the target chunk length in characters.
	// Default: 1000
	ChunkSize int

	// Overlap is the number of characters shared by consecutive chunks.
	// Default: 200
	Overlap int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.Overlap == 0 {
		c.Overlap = 200
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	return nil
}

// Chunk is one segment of a document. Start and End are rune offsets
// into the original text, End exclusive.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker splits text into overlapping chunks.
type Chunker struct {
	config Config
}

// New creates a Chunker with the given configuration.
func New(config Config) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: config}, nil
}

// Split divides text into ordered chunks covering the whole document.
// Consecutive chunks overlap by the configured amount. A cut point is
// moved backward to the nearest sentence or line break unless that
// would shrink the chunk below half the target size. Documents shorter
// than one chunk produce exactly one chunk. Empty or whitespace-only
// documents return ErrEmptyDocument.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	runes := []rune(text)
	size := c.config.ChunkSize
	if len(runes) <= size {
		return []Chunk{{Index: 0, Text: text, Start: 0, End: len(runes)}}, nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = adjustBoundary(runes, start, end, size)
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		if end == len(runes) {
			break
		}
		next := end - c.config.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks, nil
}

// adjustBoundary moves a raw cut point backward to just after the last
// sentence or line break, as long as the chunk keeps at least half the
// target size.
func adjustBoundary(runes []rune, start, cut, size int) int {
	floor := start + size/2
	for i := cut - 1; i > floor; i-- {
		if runes[i] == '.' || runes[i] == '\n' {
			return i + 1
		}
	}
	return cut
}
