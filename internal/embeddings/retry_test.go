package embeddings_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
)

// flakyProvider fails a fixed number of times before succeeding.
type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (p *flakyProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (p *flakyProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return []float32{1}, nil
}

func (p *flakyProvider) Model() string  { return "test-model-v1" }
func (p *flakyProvider) Dimension() int { return 1 }

func TestRetryProvider_SucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.New("connection reset")}
	provider := embeddings.NewRetryProvider(inner, embeddings.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, nil)

	vector, err := provider.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryProvider_ExhaustionSurfacesUnavailable(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("connection reset")}
	provider := embeddings.NewRetryProvider(inner, embeddings.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, nil)

	_, err := provider.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryProvider_CallerErrorsNotRetried(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: embeddings.ErrInputTooLong}
	provider := embeddings.NewRetryProvider(inner, embeddings.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, nil)

	_, err := provider.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, embeddings.ErrInputTooLong)
	assert.Equal(t, 1, inner.calls, "caller errors must not be retried")
}

func TestRetryProvider_ContextCancellation(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("connection reset")}
	provider := embeddings.NewRetryProvider(inner, embeddings.RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Hour, // Would stall without cancellation.
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.EmbedQuery(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryProvider_PassthroughMetadata(t *testing.T) {
	provider := embeddings.NewRetryProvider(&flakyProvider{}, embeddings.RetryConfig{}, nil)
	assert.Equal(t, "test-model-v1", provider.Model())
	assert.Equal(t, 1, provider.Dimension())
}
