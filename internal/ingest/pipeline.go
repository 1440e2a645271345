package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/chunker"
	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
	"github.com/fyrsmithlabs/navigatord/internal/vectorstore"
)

var pipelineTracer = otel.Tracer("navigatord/ingest")

// PipelineConfig holds pipeline tuning parameters.
type PipelineConfig struct {
	// MaxChunkRetries is the number of embedding attempts per chunk,
	// including the first. Default: 3
	MaxChunkRetries int

	// RetryBackoff is the initial per-chunk retry backoff, doubled on
	// each attempt. Default: 200ms
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *PipelineConfig) ApplyDefaults() {
	if c.MaxChunkRetries == 0 {
		c.MaxChunkRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// Pipeline runs documents through chunking, embedding and indexing, and
// records progress in a StatusStore.
//
// Version swap order: a new document version is fully indexed before the
// previous version's entries are deleted, so a concurrent search never
// observes a gap. Re-ingesting a version already in Ready state with an
// unchanged checksum is a no-op.
type Pipeline struct {
	config   PipelineConfig
	chunker  *chunker.Chunker
	provider embeddings.Provider
	store    vectorstore.Store
	status   StatusStore
	logger   *zap.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(config PipelineConfig, ch *chunker.Chunker, provider embeddings.Provider, store vectorstore.Store, status StatusStore, logger *zap.Logger) (*Pipeline, error) {
	config.ApplyDefaults()
	if ch == nil {
		return nil, fmt.Errorf("%w: chunker is required", ErrInvalidConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if status == nil {
		return nil, fmt.Errorf("%w: status store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		config:   config,
		chunker:  ch,
		provider: provider,
		store:    store,
		status:   status,
		logger:   logger,
	}, nil
}

// Ingest runs one document through the pipeline and returns a report.
//
// The report is always populated. A non-nil error accompanies the Failed
// state; partial progress (chunks that did index) is visible in the report
// and in the persisted status either way.
func (p *Pipeline) Ingest(ctx context.Context, doc Document, content string) (*Report, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()

	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document ID is required", ErrInvalidConfig)
	}
	if !acceptedContentType(doc.ContentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, doc.ContentType)
	}

	checksum := Checksum(content)
	version := doc.Version
	if version == "" {
		version = checksum[:12]
	}

	span.SetAttributes(
		attribute.String("document_id", doc.ID),
		attribute.String("version", version),
	)

	previous, prevErr := p.status.Get(ctx, doc.ID, version)
	if prevErr == nil && previous.State == StateReady && previous.Checksum == checksum {
		p.logger.Debug("document version already indexed",
			zap.String("document_id", doc.ID),
			zap.String("version", version),
		)
		span.SetStatus(codes.Ok, "no-op")
		return &Report{
			DocumentID:    doc.ID,
			Version:       version,
			State:         StateReady,
			ChunksTotal:   previous.ChunksTotal,
			ChunksIndexed: previous.ChunksIndexed,
			NoOp:          true,
		}, nil
	}

	status := Status{
		DocumentID: doc.ID,
		Version:    version,
		State:      StateReceived,
		Checksum:   checksum,
	}
	if err := p.record(ctx, &status); err != nil {
		return nil, err
	}

	// Chunking.
	status.State = StateChunking
	if err := p.record(ctx, &status); err != nil {
		return nil, err
	}
	chunks, err := p.chunker.Split(content)
	if err != nil {
		return p.fail(ctx, span, &status, fmt.Errorf("chunking: %w", err))
	}
	status.ChunksTotal = len(chunks)

	// Embedding, chunk by chunk with bounded retries so one flaky chunk
	// does not discard the rest of the document.
	status.State = StateEmbedding
	if err := p.record(ctx, &status); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(chunks))
	var failed []int
	for i, chunk := range chunks {
		vector, err := p.embedChunk(ctx, chunk.Text)
		if err != nil {
			if ctx.Err() != nil {
				return p.fail(ctx, span, &status, ctx.Err())
			}
			p.logger.Warn("chunk embedding failed",
				zap.String("document_id", doc.ID),
				zap.Int("chunk_index", i),
				zap.Error(err),
			)
			failed = append(failed, i)
			continue
		}
		vectors[i] = vector
	}

	// Indexing. Chunks that did embed are indexed even when siblings
	// failed, so a re-run can resume from partial progress.
	status.State = StateIndexing
	status.FailedChunks = failed
	if err := p.record(ctx, &status); err != nil {
		return nil, err
	}
	entries := p.buildEntries(doc, version, chunks, vectors)
	if len(entries) > 0 {
		if err := p.store.Upsert(ctx, entries); err != nil {
			return p.fail(ctx, span, &status, fmt.Errorf("indexing: %w", err))
		}
	}
	status.ChunksIndexed = len(entries)

	// Rewriting an existing version with fewer chunks reuses the lower
	// entry IDs; the tail of the previous run must go explicitly or
	// stale chunks keep surfacing in searches.
	if prevErr == nil && previous.ChunksTotal > len(chunks) {
		stale := make([]string, 0, previous.ChunksTotal-len(chunks))
		for i := len(chunks); i < previous.ChunksTotal; i++ {
			stale = append(stale, EntryID(doc.ID, version, i))
		}
		if err := p.store.Delete(ctx, stale); err != nil {
			p.logger.Warn("deleting stale chunks of rewritten version",
				zap.String("document_id", doc.ID),
				zap.String("version", version),
				zap.Error(err),
			)
		}
	}

	if len(failed) > 0 {
		return p.fail(ctx, span, &status,
			fmt.Errorf("%d of %d chunks failed embedding", len(failed), len(chunks)))
	}

	status.State = StateReady
	if err := p.record(ctx, &status); err != nil {
		return nil, err
	}

	p.sweepSupersededVersions(ctx, doc.ID, version)

	p.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.String("version", version),
		zap.Int("chunks", len(entries)),
	)
	span.SetStatus(codes.Ok, "success")
	return &Report{
		DocumentID:    doc.ID,
		Version:       version,
		State:         StateReady,
		ChunksTotal:   len(chunks),
		ChunksIndexed: len(entries),
	}, nil
}

// Status returns the persisted status for a document version.
func (p *Pipeline) Status(ctx context.Context, documentID, version string) (*Status, error) {
	return p.status.Get(ctx, documentID, version)
}

// Versions returns all recorded statuses for a document, newest first.
func (p *Pipeline) Versions(ctx context.Context, documentID string) ([]Status, error) {
	return p.status.Versions(ctx, documentID)
}

func (p *Pipeline) embedChunk(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxChunkRetries; attempt++ {
		if attempt > 1 {
			backoff := p.config.RetryBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := p.provider.EmbedDocuments(ctx, []string{text})
		if err == nil {
			return vectors[0], nil
		}
		if isPermanentEmbedError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func isPermanentEmbedError(err error) bool {
	return errorIsAny(err,
		embeddings.ErrEmptyInput,
		embeddings.ErrInputTooLong,
		embeddings.ErrInvalidConfig,
		context.Canceled,
	)
}

func (p *Pipeline) buildEntries(doc Document, version string, chunks []chunker.Chunk, vectors [][]float32) []vectorstore.Entry {
	entries := make([]vectorstore.Entry, 0, len(chunks))
	for i, chunk := range chunks {
		if vectors[i] == nil {
			continue
		}
		metadata := map[string]string{
			vectorstore.MetaDocumentID:      doc.ID,
			vectorstore.MetaDocumentVersion: version,
			vectorstore.MetaChunkIndex:      strconv.Itoa(chunk.Index),
			vectorstore.MetaSource:          doc.Source,
		}
		if len(doc.Tags.Roles) > 0 {
			metadata[vectorstore.MetaRoles] = vectorstore.JoinRoles(doc.Tags.Roles)
		}
		if doc.Tags.Language != "" {
			metadata[vectorstore.MetaLanguage] = doc.Tags.Language
		}
		entries = append(entries, vectorstore.Entry{
			ID:           EntryID(doc.ID, version, chunk.Index),
			Vector:       vectors[i],
			Content:      chunk.Text,
			ModelVersion: p.provider.Model(),
			Metadata:     metadata,
		})
	}
	return entries
}

// sweepSupersededVersions deletes index entries and status records of
// older versions. Runs only after the new version is Ready; failures are
// logged, the next successful ingest retries the sweep.
func (p *Pipeline) sweepSupersededVersions(ctx context.Context, documentID, currentVersion string) {
	versions, err := p.status.Versions(ctx, documentID)
	if err != nil {
		p.logger.Warn("listing document versions for sweep", zap.Error(err))
		return
	}

	for _, old := range versions {
		if old.Version == currentVersion {
			continue
		}
		ids := make([]string, 0, old.ChunksTotal)
		for i := 0; i < old.ChunksTotal; i++ {
			ids = append(ids, EntryID(documentID, old.Version, i))
		}
		if len(ids) > 0 {
			if err := p.store.Delete(ctx, ids); err != nil {
				p.logger.Warn("deleting superseded version entries",
					zap.String("document_id", documentID),
					zap.String("version", old.Version),
					zap.Error(err),
				)
				continue
			}
		}
		if err := p.status.Delete(ctx, documentID, old.Version); err != nil {
			p.logger.Warn("deleting superseded version status", zap.Error(err))
		}
	}
}

func (p *Pipeline) record(ctx context.Context, status *Status) error {
	touch(status)
	if err := p.status.Put(ctx, *status); err != nil {
		return fmt.Errorf("recording ingestion status: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, status *Status, cause error) (*Report, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	status.State = StateFailed
	status.Error = cause.Error()
	if err := p.record(ctx, status); err != nil {
		p.logger.Error("recording failed state", zap.Error(err))
	}
	p.logger.Error("document ingestion failed",
		zap.String("document_id", status.DocumentID),
		zap.String("version", status.Version),
		zap.Error(cause),
	)
	return &Report{
		DocumentID:    status.DocumentID,
		Version:       status.Version,
		State:         StateFailed,
		ChunksTotal:   status.ChunksTotal,
		ChunksIndexed: status.ChunksIndexed,
		FailedChunks:  status.FailedChunks,
	}, cause
}

func acceptedContentType(contentType string) bool {
	switch {
	case contentType == "", contentType == "text/plain", contentType == "text/markdown":
		return true
	case strings.HasPrefix(contentType, "text/plain;"):
		return true
	default:
		return false
	}
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
