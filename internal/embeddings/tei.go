package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TEIConfig holds configuration for the TEI embedding provider.
type TEIConfig struct {
	// BaseURL is the base URL of the text-embeddings-inference server.
	// Default: "http://localhost:8080"
	BaseURL string

	// Model is the embedding model identifier and version.
	// Default: "BAAI/bge-small-en-v1.5"
	Model string

	// Dimension is the embedding vector length produced by Model.
	// Default: 384 (bge-small-en-v1.5)
	Dimension int

	// MaxInputChars is the longest accepted input text. Longer inputs
	// fail with ErrInputTooLong rather than being silently truncated.
	// Default: 8000
	MaxInputChars int

	// Timeout bounds a single embed request.
	// Default: 30s
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *TEIConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.MaxInputChars == 0 {
		c.MaxInputChars = 8000
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider generates embeddings using a text-embeddings-inference server.
type TEIProvider struct {
	config TEIConfig
	client *http.Client
	logger *zap.Logger
}

// NewTEIProvider creates a TEI-backed embedding provider.
func NewTEIProvider(config TEIConfig, logger *zap.Logger) (*TEIProvider, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TEIProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs any `json:"inputs"`
}

// Model returns the embedding model identifier.
func (p *TEIProvider) Model() string { return p.config.Model }

// Dimension returns the embedding vector length.
func (p *TEIProvider) Dimension() int { return p.config.Dimension }

// EmbedDocuments generates embeddings for multiple texts.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	for i, text := range texts {
		if len(text) > p.config.MaxInputChars {
			return nil, fmt.Errorf("%w: text %d is %d chars (max %d)", ErrInputTooLong, i, len(text), p.config.MaxInputChars)
		}
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if len(text) > p.config.MaxInputChars {
		return nil, fmt.Errorf("%w: query is %d chars (max %d)", ErrInputTooLong, len(text), p.config.MaxInputChars)
	}

	vectors, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingUnavailable)
	}
	return vectors[0], nil
}

// embed performs the HTTP round trip to the TEI server.
func (p *TEIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		p.logger.Warn("embed request failed",
			zap.Int("status", resp.StatusCode),
			zap.Int("texts", len(texts)),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingUnavailable, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

// Ensure TEIProvider implements Provider.
var _ Provider = (*TEIProvider)(nil)
