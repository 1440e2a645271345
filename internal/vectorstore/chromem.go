package vectorstore

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("navigatord.vectorstore.chromem")

// Internal metadata keys managed by the store.
const (
	metaModel = "_model"
	metaSeq   = "_seq"
)

// ChromemConfig holds configuration for the chromem-go embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Empty means in-memory only (tests).
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name.
	// Default: "navigatord_chunks"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Must match the embedding provider's output dimension.
	// Default: 384 (bge-small-en-v1.5)
	VectorSize int

	// ModelVersion is the embedding model identifier every entry is
	// tagged with. Required.
	ModelVersion string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "navigatord_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("%w: model version required", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies. Search is exact (full scan), which makes this store the
// correctness reference; the interchangeable QdrantStore provides
// approximate HNSW search for larger corpora. Writes are immediately
// visible to subsequent reads.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger

	// seq orders entries for stable tie-breaking.
	seq atomic.Int64
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandHome(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	// Entries arrive pre-embedded, so the embedding function is never used.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", config.Collection, err)
	}

	store := &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}
	store.seq.Store(time.Now().UnixNano())

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
		zap.String("model_version", config.ModelVersion),
	)

	return store, nil
}

// rejectEmbeddingFunc guards against accidental text queries; all vectors
// are computed by the embeddings package.
func rejectEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("store does not embed text; provide vectors")
}

// expandHome expands ~ to the home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Upsert inserts or replaces entries by ID.
func (s *ChromemStore) Upsert(ctx context.Context, entries []Entry) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("entry_count", len(entries)))

	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	docs := make([]chromem.Document, len(entries))
	for i, entry := range entries {
		if entry.ModelVersion != s.config.ModelVersion {
			return fmt.Errorf("%w: entry %q has model %q, index expects %q",
				ErrModelVersionMismatch, entry.ID, entry.ModelVersion, s.config.ModelVersion)
		}
		if len(entry.Vector) != s.config.VectorSize {
			return fmt.Errorf("%w: entry %q has %d dimensions, index expects %d",
				ErrDimensionMismatch, entry.ID, len(entry.Vector), s.config.VectorSize)
		}

		metadata := make(map[string]string, len(entry.Metadata)+2)
		for k, v := range entry.Metadata {
			metadata[k] = v
		}
		metadata[metaModel] = entry.ModelVersion
		metadata[metaSeq] = strconv.FormatInt(s.seq.Add(1), 10)

		docs[i] = chromem.Document{
			ID:        entry.ID,
			Content:   entry.Content,
			Metadata:  metadata,
			Embedding: normalize(entry.Vector),
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding entries: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted entries", zap.Int("count", len(entries)))
	return nil
}

// Delete removes entries by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting entries: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to k nearest entries under cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	if modelVersion != s.config.ModelVersion {
		return nil, fmt.Errorf("%w: query model %q, index model %q",
			ErrModelVersionMismatch, modelVersion, s.config.ModelVersion)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	count := s.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}

	// Full scan, then filter and rank locally: the exact reference
	// behavior the approximate store is tested against.
	results, err := s.collection.QueryEmbedding(ctx, normalize(vector), count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matched := make([]SearchResult, 0, len(results))
	seqs := make(map[string]int64, len(results))
	for _, r := range results {
		if !MatchesFilters(r.Metadata, filters) {
			continue
		}
		seq, _ := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
		seqs[r.ID] = seq
		matched = append(matched, SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: publicMetadata(r.Metadata),
		})
	}

	// Descending score; ties broken by insertion order.
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return seqs[matched[i].ID] < seqs[matched[j].ID]
	})

	if len(matched) > k {
		matched = matched[:k]
	}

	span.SetAttributes(attribute.Int("results_count", len(matched)))
	span.SetStatus(codes.Ok, "success")
	return matched, nil
}

// Count returns the number of stored entries.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close closes the store. chromem persists automatically.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// publicMetadata strips internal bookkeeping keys from returned metadata.
func publicMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// normalize returns a unit-length copy of v; chromem computes cosine
// similarity as a dot product over normalized vectors.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
