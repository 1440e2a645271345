//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	CacheDir string

	// MaxLength is the maximum input sequence length.
	// Defaults to 512.
	MaxLength int
}

// FastEmbedProvider generates embeddings using local ONNX models. It lets
// documents be indexed without any remote embedding service.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	maxChars  int
	mu        sync.RWMutex
}

// fastembedModels maps friendly model names to fastembed constants.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// fastembedDimensions maps fastembed models to their embedding dimensions.
var fastembedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
	fastembed.AllMiniLML6V2: 384,
}

// NewFastEmbedProvider creates a local ONNX embedding provider.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}

	model, ok := fastembedModels[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := fastembedDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported model %q", ErrInvalidConfig, cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: fastembedDimensions[model],
		// Rough character bound; the tokenizer truncates at MaxLength
		// tokens, so anything far beyond it is a caller error.
		maxChars: maxLength * 8,
	}, nil
}

// Model returns the embedding model identifier.
func (p *FastEmbedProvider) Model() string { return p.modelName }

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedProvider) Dimension() int { return p.dimension }

// EmbedDocuments generates embeddings for multiple texts.
// Uses the "passage: " prefix recommended by BGE models.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	for i, text := range texts {
		if len(text) > p.maxChars {
			return nil, fmt.Errorf("%w: text %d is %d chars (max %d)", ErrInputTooLong, i, len(text), p.maxChars)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
// Uses the "query: " prefix recommended by BGE models.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if len(text) > p.maxChars {
		return nil, fmt.Errorf("%w: query is %d chars (max %d)", ErrInputTooLong, len(text), p.maxChars)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

// Close releases resources held by the FastEmbed provider.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}

// Ensure FastEmbedProvider implements Provider.
var _ Provider = (*FastEmbedProvider)(nil)
