package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults are valid", config: Config{}},
		{name: "explicit values", config: Config{ChunkSize: 500, Overlap: 50}},
		{name: "negative overlap", config: Config{ChunkSize: 100, Overlap: -1}, wantErr: true},
		{name: "overlap equals chunk size", config: Config{ChunkSize: 100, Overlap: 100}, wantErr: true},
		{name: "negative chunk size", config: Config{ChunkSize: -5, Overlap: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitEmptyDocument(t *testing.T) {
	ch, err := New(Config{})
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t\n"} {
		_, err := ch.Split(text)
		assert.ErrorIs(t, err, ErrEmptyDocument)
	}
}

func TestSplitShortDocumentSingleChunk(t *testing.T) {
	ch, err := New(Config{})
	require.NoError(t, err)

	text := "A short handbook section about grading."
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len([]rune(text)), chunks[0].End)
}

func TestSplitCoversWholeDocument(t *testing.T) {
	ch, err := New(Config{ChunkSize: 100, Overlap: 20})
	require.NoError(t, err)

	text := strings.Repeat("Course policies require attendance at every lab session. ", 30)
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	runes := []rune(text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, string(runes[chunk.Start:chunk.End]), chunk.Text)
		if i > 0 {
			// No gaps: each chunk starts inside its predecessor.
			assert.LessOrEqual(t, chunk.Start, chunks[i-1].End)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	ch, err := New(Config{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	text := strings.Repeat("x", 200)
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End-10, chunks[i].Start)
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	ch, err := New(Config{ChunkSize: 60, Overlap: 10})
	require.NoError(t, err)

	// A period sits past the half-size floor, so the cut moves back to it.
	text := strings.Repeat("a", 40) + ". " + strings.Repeat("b", 100)
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "."))
	assert.Equal(t, 41, chunks[0].End)
}

func TestSplitIgnoresEarlyBoundary(t *testing.T) {
	ch, err := New(Config{ChunkSize: 60, Overlap: 10})
	require.NoError(t, err)

	// The only break sits before half the target size, so the raw cut
	// point is used instead of shrinking the chunk.
	text := strings.Repeat("a", 10) + ". " + strings.Repeat("b", 200)
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	assert.Equal(t, 60, chunks[0].End)
}

func TestSplitNewlineBoundary(t *testing.T) {
	ch, err := New(Config{ChunkSize: 60, Overlap: 10})
	require.NoError(t, err)

	text := strings.Repeat("a", 45) + "\n" + strings.Repeat("b", 100)
	chunks, err := ch.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 46, chunks[0].End)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n"))
}
