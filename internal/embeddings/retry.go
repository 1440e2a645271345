package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds retry parameters for the retry decorator.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseBackoff is the initial backoff, doubled on each retry.
	// Default: 500ms
	BaseBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
}

// RetryProvider wraps a Provider with bounded exponential backoff.
//
// Caller errors (ErrEmptyInput, ErrInputTooLong) are surfaced immediately.
// Transient failures are retried; exhaustion surfaces ErrEmbeddingUnavailable.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	logger *zap.Logger
}

// NewRetryProvider wraps the given provider with retry behavior.
func NewRetryProvider(inner Provider, config RetryConfig, logger *zap.Logger) *RetryProvider {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryProvider{inner: inner, config: config, logger: logger}
}

// Model returns the wrapped provider's model identifier.
func (p *RetryProvider) Model() string { return p.inner.Model() }

// Dimension returns the wrapped provider's vector length.
func (p *RetryProvider) Dimension() int { return p.inner.Dimension() }

// EmbedDocuments generates embeddings with retries.
func (p *RetryProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := p.retry(ctx, "embed_documents", func() error {
		var inner error
		vectors, inner = p.inner.EmbedDocuments(ctx, texts)
		return inner
	})
	return vectors, err
}

// EmbedQuery generates a query embedding with retries.
func (p *RetryProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := p.retry(ctx, "embed_query", func() error {
		var inner error
		vector, inner = p.inner.EmbedQuery(ctx, text)
		return inner
	})
	return vector, err
}

// retry runs op with exponential backoff up to MaxAttempts.
func (p *RetryProvider) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := p.config.BaseBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrInputTooLong) || errors.Is(err, context.Canceled) {
			return err
		}

		lastErr = err
		p.logger.Warn("embedding attempt failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.config.MaxAttempts),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrEmbeddingUnavailable, p.config.MaxAttempts, lastErr)
}

// Ensure RetryProvider implements Provider.
var _ Provider = (*RetryProvider)(nil)
