package ingest_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/navigatord/internal/chunker"
	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
	"github.com/fyrsmithlabs/navigatord/internal/ingest"
	"github.com/fyrsmithlabs/navigatord/internal/vectorstore"
)

const stubModel = "stub-embed-v1"

// stubProvider embeds deterministically and can be told to fail for
// texts containing a marker.
type stubProvider struct {
	failMarker string
}

func (s *stubProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if s.failMarker != "" && strings.Contains(text, s.failMarker) {
			return nil, fmt.Errorf("%w: backend refused", embeddings.ErrEmbeddingUnavailable)
		}
		out[i] = vectorFor(text)
	}
	return out, nil
}

func (s *stubProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return vectorFor(text), nil
}

func (s *stubProvider) Model() string  { return stubModel }
func (s *stubProvider) Dimension() int { return 3 }

func vectorFor(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(len(text)), 1}
}

var _ embeddings.Provider = (*stubProvider)(nil)

type pipelineFixture struct {
	pipeline *ingest.Pipeline
	store    *vectorstore.ChromemStore
	status   *ingest.MemoryStatusStore
}

func newFixture(t *testing.T, provider embeddings.Provider, chunkCfg chunker.Config) *pipelineFixture {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		VectorSize:   3,
		ModelVersion: stubModel,
	}, nil)
	require.NoError(t, err)

	ch, err := chunker.New(chunkCfg)
	require.NoError(t, err)

	status := ingest.NewMemoryStatusStore()
	pipeline, err := ingest.NewPipeline(ingest.PipelineConfig{
		MaxChunkRetries: 2,
		RetryBackoff:    time.Millisecond,
	}, ch, provider, store, status, nil)
	require.NoError(t, err)

	return &pipelineFixture{pipeline: pipeline, store: store, status: status}
}

func TestPipeline_IngestHappyPath(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{})
	ctx := context.Background()

	doc := ingest.Document{
		ID:          "handbook",
		Source:      "handbook.txt",
		ContentType: "text/plain",
		Tags: ingest.Tags{
			Roles:    []string{"instructors"},
			Language: "en",
		},
	}
	report, err := f.pipeline.Ingest(ctx, doc,
		"Instructors must complete an 8-hour course and pass an 80% exam.")
	require.NoError(t, err)

	assert.Equal(t, ingest.StateReady, report.State)
	assert.Equal(t, 1, report.ChunksTotal)
	assert.Equal(t, 1, report.ChunksIndexed)
	assert.False(t, report.NoOp)
	assert.NotEmpty(t, report.Version, "version derived from checksum when unset")

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := f.store.Search(ctx,
		vectorFor("Instructors must complete an 8-hour course and pass an 80% exam."),
		stubModel, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "handbook", results[0].Metadata[vectorstore.MetaDocumentID])
	assert.Equal(t, "handbook.txt", results[0].Metadata[vectorstore.MetaSource])
	assert.Equal(t, "instructors", results[0].Metadata[vectorstore.MetaRoles])
	assert.Equal(t, "en", results[0].Metadata[vectorstore.MetaLanguage])
}

func TestPipeline_ReingestSameVersionIsNoOp(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{})
	ctx := context.Background()

	doc := ingest.Document{ID: "doc", Source: "doc.txt"}
	content := "Course certificates are valid for three years."

	first, err := f.pipeline.Ingest(ctx, doc, content)
	require.NoError(t, err)
	countBefore, err := f.store.Count(ctx)
	require.NoError(t, err)

	second, err := f.pipeline.Ingest(ctx, doc, content)
	require.NoError(t, err)

	assert.True(t, second.NoOp)
	assert.Equal(t, first.Version, second.Version)
	countAfter, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter, "re-ingesting an unchanged version must not touch the index")
}

func TestPipeline_NewVersionSwapsAtomically(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{})
	ctx := context.Background()

	doc := ingest.Document{ID: "policy", Source: "policy.txt", Version: "v1"}
	_, err := f.pipeline.Ingest(ctx, doc, "Refunds are issued within 30 days.")
	require.NoError(t, err)

	doc.Version = "v2"
	report, err := f.pipeline.Ingest(ctx, doc, "Refunds are issued within 14 days.")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateReady, report.State)

	// Only the new version's chunks remain after the swap.
	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.ChunksIndexed, count)

	_, err = f.pipeline.Status(ctx, "policy", "v1")
	assert.ErrorIs(t, err, ingest.ErrDocumentNotFound, "superseded version status swept")

	status, err := f.pipeline.Status(ctx, "policy", "v2")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateReady, status.State)
}

func TestPipeline_RewrittenVersionDropsStaleChunks(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{ChunkSize: 40, Overlap: 5})
	ctx := context.Background()

	doc := ingest.Document{ID: "policy", Source: "policy.txt", Version: "2024-01"}
	long := strings.Repeat("Recertification is required every three years. ", 4)
	first, err := f.pipeline.Ingest(ctx, doc, long)
	require.NoError(t, err)
	require.Greater(t, first.ChunksTotal, 1)

	// Same explicit version, shorter content: the previous run's tail
	// entries must not linger in the index.
	second, err := f.pipeline.Ingest(ctx, doc, "Recertification is annual.")
	require.NoError(t, err)
	assert.False(t, second.NoOp)
	assert.Equal(t, 1, second.ChunksTotal)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipeline_PartialFailureReportsChunks(t *testing.T) {
	// Single-rune marker: it cannot straddle a chunk boundary, so at
	// least one chunk is guaranteed to carry it.
	provider := &stubProvider{failMarker: "Z"}
	f := newFixture(t, provider, chunker.Config{ChunkSize: 40, Overlap: 5})
	ctx := context.Background()

	content := strings.Repeat("good text. ", 8) +
		"Z section here. " +
		strings.Repeat("more good text. ", 8)

	doc := ingest.Document{ID: "mixed", Source: "mixed.txt"}
	report, err := f.pipeline.Ingest(ctx, doc, content)
	require.Error(t, err)

	assert.Equal(t, ingest.StateFailed, report.State)
	assert.NotEmpty(t, report.FailedChunks)
	assert.Greater(t, report.ChunksIndexed, 0, "healthy chunks index despite failed siblings")
	assert.Equal(t, report.ChunksTotal, report.ChunksIndexed+len(report.FailedChunks))

	status, err := f.pipeline.Status(ctx, "mixed", report.Version)
	require.NoError(t, err)
	assert.Equal(t, ingest.StateFailed, status.State)
	assert.Equal(t, report.FailedChunks, status.FailedChunks)
}

func TestPipeline_EmptyDocument(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{})

	doc := ingest.Document{ID: "empty", Source: "empty.txt"}
	report, err := f.pipeline.Ingest(context.Background(), doc, "   \n  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, chunker.ErrEmptyDocument)
	assert.Equal(t, ingest.StateFailed, report.State)
}

func TestPipeline_UnsupportedContentType(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{})

	doc := ingest.Document{ID: "binary", Source: "report.pdf", ContentType: "application/pdf"}
	_, err := f.pipeline.Ingest(context.Background(), doc, "%PDF-1.4")
	assert.ErrorIs(t, err, ingest.ErrUnsupportedContentType)
}

func TestPipeline_RequiresDocumentID(t *testing.T) {
	f := newFixture(t, &stubProvider{}, chunker.Config{})

	_, err := f.pipeline.Ingest(context.Background(), ingest.Document{}, "text")
	assert.ErrorIs(t, err, ingest.ErrInvalidConfig)
}
