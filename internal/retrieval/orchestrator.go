// Package retrieval turns a user query into ranked, role-filtered context
// chunks and classifies whether the query is groundable.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
	"github.com/fyrsmithlabs/navigatord/internal/vectorstore"
)

var tracer = otel.Tracer("navigatord/retrieval")

// ErrInvalidConfig indicates invalid orchestrator configuration.
var ErrInvalidConfig = errors.New("invalid config")

const (
	minTopK = 3
	maxTopK = 10
)

// Config holds retrieval tuning parameters.
type Config struct {
	// TopK is how many chunks to retrieve. Clamped to [3, 10].
	// Default: 5
	TopK int

	// MinScore is the similarity threshold below which hits are
	// discarded. Default: 0.25
	MinScore float32
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.TopK < minTopK {
		c.TopK = minTopK
	}
	if c.TopK > maxTopK {
		c.TopK = maxTopK
	}
	if c.MinScore == 0 {
		c.MinScore = 0.25
	}
}

// Hit is one retrieved chunk that cleared the similarity threshold.
type Hit struct {
	DocumentID string
	Source     string
	ChunkIndex int
	Content    string
	Score      float32
}

// Result is the outcome of one retrieval.
type Result struct {
	Hits []Hit

	// Groundable is true when at least one hit cleared the threshold.
	// Ungroundable queries must never receive fabricated citations.
	Groundable bool
}

// Orchestrator embeds queries and searches the vector index with role and
// language visibility filters.
type Orchestrator struct {
	config   Config
	provider embeddings.Provider
	store    vectorstore.Store
	logger   *zap.Logger
}

// New creates a retrieval orchestrator.
func New(config Config, provider embeddings.Provider, store vectorstore.Store, logger *zap.Logger) (*Orchestrator, error) {
	config.ApplyDefaults()
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{config: config, provider: provider, store: store, logger: logger}, nil
}

// Retrieve embeds the query and returns ranked hits visible to the caller's
// role and language.
//
// An unreachable embedder or index degrades to an empty, ungroundable
// result rather than an error; the caller falls back to an uncited answer.
// ErrInputTooLong surfaces directly so the caller can correct usage.
func (o *Orchestrator) Retrieve(ctx context.Context, query, role, language string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("role", role),
		attribute.Int("top_k", o.config.TopK),
	)

	vector, err := o.provider.EmbedQuery(ctx, query)
	if err != nil {
		if errors.Is(err, embeddings.ErrInputTooLong) || errors.Is(err, embeddings.ErrEmptyInput) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("query embedding unavailable, degrading to ungroundable", zap.Error(err))
		span.SetStatus(codes.Ok, "degraded")
		return &Result{Hits: []Hit{}}, nil
	}

	filters := map[string]string{}
	if role != "" {
		filters[vectorstore.MetaRoles] = role
	}
	if language != "" {
		filters[vectorstore.MetaLanguage] = language
	}

	results, err := o.store.Search(ctx, vector, o.provider.Model(), o.config.TopK, filters)
	if err != nil {
		if errors.Is(err, vectorstore.ErrIndexUnavailable) {
			o.logger.Warn("vector index unavailable, degrading to ungroundable", zap.Error(err))
			span.SetStatus(codes.Ok, "degraded")
			return &Result{Hits: []Hit{}}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r.Score < o.config.MinScore {
			continue
		}
		chunkIndex, _ := strconv.Atoi(r.Metadata[vectorstore.MetaChunkIndex])
		hits = append(hits, Hit{
			DocumentID: r.Metadata[vectorstore.MetaDocumentID],
			Source:     r.Metadata[vectorstore.MetaSource],
			ChunkIndex: chunkIndex,
			Content:    r.Content,
			Score:      r.Score,
		})
	}

	span.SetAttributes(
		attribute.Int("hits", len(hits)),
		attribute.Bool("groundable", len(hits) > 0),
	)
	span.SetStatus(codes.Ok, "success")
	return &Result{Hits: hits, Groundable: len(hits) > 0}, nil
}
