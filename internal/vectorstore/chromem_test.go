package vectorstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/navigatord/internal/vectorstore"
)

const testModel = "test-embed-v1"

func newTestStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		VectorSize:   3,
		ModelVersion: testModel,
	}, nil)
	require.NoError(t, err)
	return store
}

func entry(id string, vector []float32, metadata map[string]string) vectorstore.Entry {
	return vectorstore.Entry{
		ID:           id,
		Vector:       vector,
		Content:      "content of " + id,
		ModelVersion: testModel,
		Metadata:     metadata,
	}
}

func TestChromemConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    vectorstore.ChromemConfig
		wantError bool
	}{
		{
			name:   "valid",
			config: vectorstore.ChromemConfig{VectorSize: 384, ModelVersion: testModel},
		},
		{
			name:      "missing model version",
			config:    vectorstore.ChromemConfig{VectorSize: 384},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChromemStore_UpsertAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("a", []float32{1, 0, 0}, nil),
		entry("b", []float32{0, 1, 0}, nil),
		entry("c", []float32{0.9, 0.1, 0}, nil),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, testModel, 2, nil)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID, "exact match must rank first")
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestChromemStore_GroundTruthRetrieval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// One obviously best match for the query vector.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
			entry(fmt.Sprintf("noise-%d", i), []float32{0, 1, float32(i)}, nil),
		}))
	}
	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("target", []float32{1, 0.01, 0}, nil),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, testModel, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "target", results[0].ID)
}

func TestChromemStore_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("a", []float32{1, 0, 0}, nil),
	}))
	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("a", []float32{0, 1, 0}, nil),
	}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-upserting an ID must replace, not duplicate")

	results, err := store.Search(ctx, []float32{0, 1, 0}, testModel, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-4)
}

func TestChromemStore_TiesBrokenByInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Identical vectors: identical scores against any query.
	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("first", []float32{1, 0, 0}, nil),
		entry("second", []float32{1, 0, 0}, nil),
		entry("third", []float32{1, 0, 0}, nil),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, testModel, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{results[0].ID, results[1].ID, results[2].ID})
}

func TestChromemStore_RejectsCrossModelQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("a", []float32{1, 0, 0}, nil),
	}))

	_, err := store.Search(ctx, []float32{1, 0, 0}, "other-model-v2", 1, nil)
	assert.ErrorIs(t, err, vectorstore.ErrModelVersionMismatch)

	badEntry := entry("b", []float32{1, 0, 0}, nil)
	badEntry.ModelVersion = "other-model-v2"
	err = store.Upsert(ctx, []vectorstore.Entry{badEntry})
	assert.ErrorIs(t, err, vectorstore.ErrModelVersionMismatch)
}

func TestChromemStore_DimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []vectorstore.Entry{entry("a", []float32{1, 0}, nil)})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	_, err = store.Search(ctx, []float32{1, 0}, testModel, 1, nil)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestChromemStore_RoleAndLanguageFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("open", []float32{1, 0, 0}, map[string]string{
			vectorstore.MetaLanguage: "en",
		}),
		entry("instructors-only", []float32{1, 0, 0}, map[string]string{
			vectorstore.MetaRoles:    "instructors",
			vectorstore.MetaLanguage: "en",
		}),
		entry("staff-only", []float32{1, 0, 0}, map[string]string{
			vectorstore.MetaRoles:    "staff,admins",
			vectorstore.MetaLanguage: "en",
		}),
		entry("spanish", []float32{1, 0, 0}, map[string]string{
			vectorstore.MetaLanguage: "es",
		}),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, testModel, 10, map[string]string{
		vectorstore.MetaRoles:    "instructors",
		vectorstore.MetaLanguage: "en",
	})
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.ElementsMatch(t, []string{"open", "instructors-only"}, ids,
		"unrestricted entries stay visible, other roles and languages are filtered")
}

func TestChromemStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		entry("a", []float32{1, 0, 0}, nil),
		entry("b", []float32{0, 1, 0}, nil),
	}))
	require.NoError(t, store.Delete(ctx, []string{"a"}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Deleting missing IDs is not an error.
	assert.NoError(t, store.Delete(ctx, []string{"gone"}))
	assert.NoError(t, store.Delete(ctx, nil))
}

func TestChromemStore_EmptyIndexSearch(t *testing.T) {
	store := newTestStore(t)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, testModel, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	config := vectorstore.ChromemConfig{
		Path:         dir,
		VectorSize:   3,
		ModelVersion: testModel,
	}

	store, err := vectorstore.NewChromemStore(config, nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), []vectorstore.Entry{
		entry("a", []float32{1, 0, 0}, nil),
	}))
	require.NoError(t, store.Close())

	reopened, err := vectorstore.NewChromemStore(config, nil)
	require.NoError(t, err)

	count, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
