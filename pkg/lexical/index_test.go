package lexical

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksByTermOverlap(t *testing.T) {
	ix := New()
	ix.Upsert([]Record{
		{ID: "r1", Text: "graphic violence and gore throughout the film"},
		{ID: "r2", Text: "mild language in a few scenes"},
		{ID: "r3", Text: "romantic comedy with no objectionable content"},
	})

	results := ix.Search("graphic violence", 3)
	require.NotEmpty(t, results)
	assert.Equal(t, "r1", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)

	for _, r := range results {
		assert.NotEqual(t, "r3", r.ID, "document with no overlapping terms must not match")
	}
}

func TestBigramsBoostPhraseMatches(t *testing.T) {
	ix := New()
	ix.Upsert([]Record{
		{ID: "phrase", Text: "strong language used repeatedly"},
		{ID: "scattered", Text: "language lessons build strong minds"},
	})

	results := ix.Search("strong language", 2)
	require.Len(t, results, 2)
	assert.Equal(t, "phrase", results[0].ID, "adjacent phrase should outrank scattered terms")
}

func TestUpsertReplacesDocument(t *testing.T) {
	ix := New()
	ix.Upsert([]Record{{ID: "a", Text: "violence"}})
	ix.Upsert([]Record{{ID: "a", Text: "peaceful nature documentary"}})

	assert.Equal(t, 1, ix.Len())
	assert.Empty(t, ix.Search("violence", 5))
	require.NotEmpty(t, ix.Search("nature", 5))
}

func TestRemove(t *testing.T) {
	ix := New()
	ix.Upsert([]Record{
		{ID: "a", Text: "some text"},
		{ID: "b", Text: "other text"},
	})
	ix.Remove([]string{"a", "missing"})

	assert.Equal(t, 1, ix.Len())
	results := ix.Search("text", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestSearchEdgeCases(t *testing.T) {
	ix := New()
	assert.Empty(t, ix.Search("anything", 5), "empty index")

	ix.Upsert([]Record{{ID: "a", Text: "hello world"}})
	assert.Empty(t, ix.Search("hello", 0), "k=0")
	assert.Empty(t, ix.Search("   ", 5), "blank query")
	assert.Empty(t, ix.Search("unrelated terms", 5), "no overlap")
}

func TestPayloadRoundTrip(t *testing.T) {
	ix := New()
	ix.Upsert([]Record{{
		ID:      "a",
		Text:    "crude humor",
		Payload: map[string]any{"source": "script.txt"},
	}})

	results := ix.Search("crude humor", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "script.txt", results[0].Payload["source"])
}

func TestSearchTruncatesToK(t *testing.T) {
	ix := New()
	records := make([]Record, 10)
	for i := range records {
		records[i] = Record{ID: fmt.Sprintf("d%d", i), Text: "shared term content"}
	}
	ix.Upsert(records)

	assert.Len(t, ix.Search("shared term", 3), 3)
}

func TestConcurrentSearchAndUpsert(t *testing.T) {
	ix := New()
	ix.Upsert([]Record{{ID: "seed", Text: "initial content"}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			ix.Upsert([]Record{{ID: fmt.Sprintf("w%d", i), Text: "concurrent content"}})
		}
	}()
	for i := 0; i < 100; i++ {
		ix.Search("content", 5)
	}
	<-done

	assert.Equal(t, 101, ix.Len())
}
