package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("navigatord.vectorstore.qdrant")

// Payload keys managed by the Qdrant store.
const (
	payloadID      = "id"
	payloadContent = "content"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the collection name.
	// Default: "navigatord_chunks"
	Collection string

	// VectorSize is the dimensionality of embeddings.
	// Must match the embedding provider's output dimension.
	// Default: 384
	VectorSize int

	// ModelVersion is the embedding model identifier every entry is
	// tagged with. Required.
	ModelVersion string

	// HNSWM is the number of graph edges per node. Higher is more
	// accurate and slower to build.
	// Default: 16
	HNSWM int

	// HNSWEfConstruct is the construction-time beam width.
	// Default: 512
	HNSWEfConstruct int

	// HNSWEfSearch is the query-time beam width: the accuracy/speed
	// trade-off knob.
	// Default: 128
	HNSWEfSearch int

	// MaxRetries is the retry budget for transient gRPC failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry.
	// Default: 500ms
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "navigatord_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.HNSWM == 0 {
		c.HNSWM = 16
	}
	if c.HNSWEfConstruct == 0 {
		c.HNSWEfConstruct = 512
	}
	if c.HNSWEfSearch == 0 {
		c.HNSWEfSearch = 128
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("%w: model version required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements Store using Qdrant's native gRPC client.
//
// Search is approximate (HNSW); HNSWEfSearch trades accuracy for speed.
// Upserts and deletes use wait-mode, so a write is visible to the next
// search as soon as the call returns: the documented read-after-write
// interval is one round trip.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// seq orders entries for stable tie-breaking.
	seq atomic.Int64
}

// NewQdrantStore creates a QdrantStore and ensures the collection exists.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", ErrIndexUnavailable, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}
	store.seq.Store(time.Now().UnixNano())

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
		zap.Int("hnsw_ef_search", config.HNSWEfSearch),
	)

	return store, nil
}

// ensureCollection creates the collection with HNSW parameters if missing.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", ErrIndexUnavailable, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
		HnswConfig: &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(uint64(s.config.HNSWM)),
			EfConstruct: qdrant.PtrOf(uint64(s.config.HNSWEfConstruct)),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// Upsert inserts or atomically replaces entries by ID.
func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.String("collection", s.config.Collection),
	)

	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, entry := range entries {
		if entry.ModelVersion != s.config.ModelVersion {
			return fmt.Errorf("%w: entry %q has model %q, index expects %q",
				ErrModelVersionMismatch, entry.ID, entry.ModelVersion, s.config.ModelVersion)
		}
		if len(entry.Vector) != s.config.VectorSize {
			return fmt.Errorf("%w: entry %q has %d dimensions, index expects %d",
				ErrDimensionMismatch, entry.ID, len(entry.Vector), s.config.VectorSize)
		}

		payload := map[string]*qdrant.Value{
			payloadID:      stringValue(entry.ID),
			payloadContent: stringValue(entry.Content),
			metaModel:      stringValue(entry.ModelVersion),
			metaSeq:        intValue(s.seq.Add(1)),
		}
		for k, v := range entry.Metadata {
			if k == MetaRoles {
				payload[k] = listValue(strings.Split(v, ","))
				continue
			}
			payload[k] = stringValue(v)
		}

		points[i] = &qdrant.PointStruct{
			// Deterministic UUID from the entry ID makes re-upserts
			// replace instead of duplicate.
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(entry.ID)).String()),
			Vectors: qdrant.NewVectors(entry.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted entries", zap.Int("count", len(entries)))
	return nil
}

// Delete removes entries by their original IDs.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: payloadID,
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keywords{
											Keywords: &qdrant.RepeatedStrings{Strings: ids},
										},
									},
								},
							},
						}},
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to k approximate nearest entries.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.Int("k", k),
		attribute.String("collection", s.config.Collection),
	)

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

	filter := s.buildFilter(filters)

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
			Params: &qdrant.SearchParams{
				HnswEf: qdrant.PtrOf(uint64(s.config.HNSWEfSearch)),
			},
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]SearchResult, 0, len(points))
	seqs := make(map[string]int64, len(points))
	for _, p := range points {
		id, metadata, seq := decodePayload(p.Payload)
		seqs[id] = seq
		results = append(results, SearchResult{
			ID:       id,
			Content:  payloadString(p.Payload, payloadContent),
			Score:    p.Score,
			Metadata: metadata,
		})
	}

	// Qdrant leaves tie order unspecified; enforce insertion order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return seqs[results[i].ID] < seqs[results[j].ID]
	})

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// buildFilter maps metadata filters to Qdrant conditions. The MetaRoles
// key matches entries listing the role or entries with no role restriction.
func (s *QdrantStore) buildFilter(filters map[string]string) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch(metaModel, s.config.ModelVersion),
	}

	for key, value := range filters {
		if key == MetaRoles {
			must = append(must, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Filter{
					Filter: &qdrant.Filter{
						Should: []*qdrant.Condition{
							qdrant.NewIsEmpty(MetaRoles),
							qdrant.NewMatch(MetaRoles, value),
						},
					},
				},
			})
			continue
		}
		must = append(must, qdrant.NewMatch(key, value))
	}

	return &qdrant.Filter{Must: must}
}

// Count returns the number of stored entries.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	var count uint64
	err := s.retryOperation(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return int(count), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// retryOperation retries transient failures with exponential backoff and
// maps exhaustion to ErrIndexUnavailable.
func (s *QdrantStore) retryOperation(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isTransientGRPCError(err) {
			return fmt.Errorf("%s failed: %w", op, err)
		}

		lastErr = err
		s.logger.Warn("qdrant operation failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %s failed after %d retries: %v", ErrIndexUnavailable, op, s.config.MaxRetries, lastErr)
}

// isTransientGRPCError reports whether a gRPC error is worth retrying.
func isTransientGRPCError(err error) bool {
	switch status.Code(err) {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.ResourceExhausted, grpccodes.Aborted:
		return true
	default:
		return false
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func listValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, stringValue(item))
		}
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
}

// payloadString extracts a string payload field.
func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

// decodePayload converts a point payload back to entry ID, public metadata
// and insertion sequence.
func decodePayload(payload map[string]*qdrant.Value) (id string, metadata map[string]string, seq int64) {
	metadata = make(map[string]string, len(payload))
	for k, v := range payload {
		switch k {
		case payloadID:
			id = payloadString(payload, payloadID)
		case payloadContent, metaModel:
			// Surfaced through dedicated fields.
		case metaSeq:
			if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
				seq = iv.IntegerValue
			}
		case MetaRoles:
			if lv, ok := v.Kind.(*qdrant.Value_ListValue); ok {
				roles := make([]string, 0, len(lv.ListValue.Values))
				for _, item := range lv.ListValue.Values {
					if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
						roles = append(roles, s.StringValue)
					}
				}
				metadata[MetaRoles] = JoinRoles(roles)
			}
		default:
			if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
				metadata[k] = s.StringValue
			}
		}
	}
	return id, metadata, seq
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
