package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptrate/ragcore/pkg/config"
)

func newChromemForTest(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(&config.VectorConfig{
		Store:      "chromem",
		Collection: "test",
		Dimension:  4,
		Metric:     "cosine",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRecords(t *testing.T, store *ChromemStore) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), []Record{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"text": "alpha", "rating": "R"}},
		{ID: "b", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"text": "beta", "rating": "PG"}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{"text": "gamma", "rating": "R"}},
	}, true))
}

func TestChromemUpsertAndSearch(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "alpha", results[0].Payload["text"])
}

func TestChromemUpsertIdempotent(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)
	seedRecords(t, store)

	info, err := store.Info(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.PointsCount)
}

func TestChromemSearchKLargerThanCorpus(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 50, 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestChromemSearchWithFilter(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 10, 0, Filter{"rating": "PG"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestChromemSearchThreshold(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 10, 0.5, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, float32(0.5))
	}
	assert.NotEmpty(t, results)
}

func TestChromemDimensionMismatch(t *testing.T) {
	store := newChromemForTest(t)

	err := store.Upsert(context.Background(), []Record{
		{ID: "bad", Vector: []float32{1, 0}},
	}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.False(t, IsTransient(err), "dimension mismatch is permanent")

	_, err = store.Search(context.Background(), []float32{1, 0}, 5, 0, nil)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestChromemDelete(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	require.NoError(t, store.Delete(context.Background(), []string{"a", "missing"}))

	info, err := store.Info(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.PointsCount)
}

func TestChromemDeleteByFilter(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	require.NoError(t, store.DeleteByFilter(context.Background(), Filter{"rating": "R"}))

	info, err := store.Info(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.PointsCount)

	results, err := store.Search(context.Background(), []float32{0, 1, 0, 0}, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestChromemScroll(t *testing.T) {
	store := newChromemForTest(t)
	seedRecords(t, store)

	seen := make(map[string]string)
	err := store.Scroll(context.Background(), func(id string, payload map[string]any) error {
		seen[id], _ = payload["text"].(string)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "alpha", "b": "beta", "c": "gamma"}, seen)
}

func TestChromemRejectsNonCosineMetric(t *testing.T) {
	_, err := NewChromemStore(&config.VectorConfig{
		Store:      "chromem",
		Collection: "test",
		Dimension:  4,
		Metric:     "dot",
	})
	assert.Error(t, err)
}
