package rag

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptrate/ragcore/pkg/config"
	"github.com/scriptrate/ragcore/pkg/embedding"
	"github.com/scriptrate/ragcore/pkg/router"
	"github.com/scriptrate/ragcore/pkg/vector"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Vector.Dimension = 8
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	eng, err := New(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func seedCorpus(t *testing.T, eng *Engine) {
	t.Helper()
	ids, err := eng.IndexBatch(context.Background(), []Document{
		{ID: "r1", Text: "Alpha violence severe"},
		{ID: "r2", Text: "Beta romance mild"},
		{ID: "r3", Text: "Gamma language moderate"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2", "r3"}, ids)
}

// outageStore delegates to a real store until failing is set, after
// which searches error.
type outageStore struct {
	vector.Store
	failing bool
}

func (s *outageStore) Search(ctx context.Context, vec []float32, k int, threshold float32, filter vector.Filter) ([]vector.SearchResult, error) {
	if s.failing {
		return nil, errors.New("store unavailable")
	}
	return s.Store.Search(ctx, vec, k, threshold, filter)
}

// slowProvider blocks until its context is canceled.
type slowProvider struct {
	delay time.Duration
}

func (p *slowProvider) ID() string          { return "slow" }
func (p *slowProvider) ModelName() string   { return "slow-model" }
func (p *slowProvider) Dimension() int      { return 8 }
func (p *slowProvider) Deterministic() bool { return false }
func (p *slowProvider) Close() error        { return nil }

func (p *slowProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-time.After(p.delay):
		return nil, errors.New("slept past the deadline")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestIndexAndVectorSearch(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	seedCorpus(t, eng)

	resp, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: 3})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r1", resp.Results[0].ID)
	assert.Greater(t, resp.Results[0].Score, 0.0)
	assert.False(t, resp.Degraded)
}

func TestAutoWidensToHybridBelowConfidence(t *testing.T) {
	cfg := testConfig()
	cfg.Router.ConfidenceThreshold = 0.95
	eng := newTestEngine(t, cfg, Options{})
	seedCorpus(t, eng)

	resp, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, router.StrategyHybrid, resp.Strategy)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r1", resp.Results[0].ID,
		"both paths agree on the violence record")
	assert.Equal(t, "hybrid", resp.Results[0].Source)
}

func TestStoreOutage(t *testing.T) {
	cfg := testConfig()
	inner, err := vector.NewChromemStore(&cfg.Vector)
	require.NoError(t, err)
	store := &outageStore{Store: inner}

	eng := newTestEngine(t, cfg, Options{Store: store})
	seedCorpus(t, eng)
	store.failing = true

	// Auto falls back to lexical; that is routine, not degradation.
	resp, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: 3})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, router.StrategyLexical, resp.Strategy)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r1", resp.Results[0].ID)
	assert.Equal(t, "lexical", resp.Results[0].Source)

	// Vector-only has no fallback.
	resp, err = eng.Search(context.Background(), "violence", SearchOptions{
		TopK:     3,
		Strategy: router.StrategyVector,
	})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)
}

func TestBatchIdempotence(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	seedCorpus(t, eng)
	seedCorpus(t, eng)

	h := eng.Health(context.Background())
	assert.EqualValues(t, 3, h.Documents)
	assert.Equal(t, 3, h.Lexical)

	resp, err := eng.Search(context.Background(), "Alpha violence severe", SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "r1", resp.Results[0].ID)
}

func TestCancellationMidEmbedding(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.Router.EnableCache = true
	eng := newTestEngine(t, cfg, Options{
		Providers: []embedding.Provider{&slowProvider{delay: 30 * time.Second}},
		Redis:     client,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	resp, err := eng.Search(ctx, "violence", SearchOptions{TopK: 3})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.True(t, resp.Degraded)
	assert.Less(t, elapsed, time.Second, "cancellation must interrupt the provider promptly")
	assert.Empty(t, mr.Keys(), "a canceled query must not leave cache entries")
}

func TestIndexAssignsIDsAndPayload(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})

	id, err := eng.IndexDocument(context.Background(), Document{
		Text:    "Alpha violence severe",
		Payload: map[string]any{"source": "script.txt"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	resp, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	res := resp.Results[0]
	assert.NotEmpty(t, res.ID, "missing ids are assigned")
	assert.Equal(t, "script.txt", res.Payload["source"])
	assert.Equal(t, "Alpha violence severe", res.Payload["text"])
	assert.Equal(t, "mock-hash-embedder", res.Payload["embedding_model"])
	assert.Equal(t, res.ID, res.Payload["document_id"])
}

func TestIndexRejectsEmptyText(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})

	_, err := eng.IndexBatch(context.Background(), []Document{
		{ID: "ok", Text: "fine"},
		{ID: "bad", Text: "   "},
	})
	require.Error(t, err)

	h := eng.Health(context.Background())
	assert.EqualValues(t, 0, h.Documents, "a rejected batch must not partially index")
}

func TestDeleteDocuments(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	seedCorpus(t, eng)

	require.NoError(t, eng.DeleteDocuments(context.Background(), []string{"r1"}))

	h := eng.Health(context.Background())
	assert.EqualValues(t, 2, h.Documents)
	assert.Equal(t, 2, h.Lexical)

	resp, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: 3})
	require.NoError(t, err)
	for _, res := range resp.Results {
		assert.NotEqual(t, "r1", res.ID)
	}
}

func TestDeleteByDocumentID(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	_, err := eng.IndexBatch(context.Background(), []Document{
		{ID: "c1", DocumentID: "doc-a", Text: "Alpha violence severe chunk one"},
		{ID: "c2", DocumentID: "doc-a", Text: "Alpha violence severe chunk two"},
		{ID: "c3", DocumentID: "doc-b", Text: "Beta romance mild"},
	})
	require.NoError(t, err)

	removed, err := eng.DeleteByDocumentID(context.Background(), "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	h := eng.Health(context.Background())
	assert.EqualValues(t, 1, h.Documents)
	assert.Equal(t, 1, h.Lexical)

	removed, err = eng.DeleteByDocumentID(context.Background(), "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestLexicalIndexRebuildsOnStartup(t *testing.T) {
	cfg := testConfig()
	store, err := vector.NewChromemStore(&cfg.Vector)
	require.NoError(t, err)

	first := newTestEngine(t, cfg, Options{Store: store})
	seedCorpus(t, first)

	// A second engine over the same store must recover the shadow
	// index from stored payloads.
	second := newTestEngine(t, cfg, Options{Store: store})
	assert.Equal(t, 3, second.lex.Len())

	resp, err := second.Search(context.Background(), "violence", SearchOptions{
		TopK:     3,
		Strategy: router.StrategyLexical,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r1", resp.Results[0].ID)
}

func TestHybridSearchWithCallerWeights(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	seedCorpus(t, eng)

	resp, err := eng.HybridSearch(context.Background(), "violence", SearchOptions{TopK: 3}, 0.5, 0.5)
	require.NoError(t, err)

	assert.Equal(t, router.StrategyHybrid, resp.Strategy)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "r1", resp.Results[0].ID)
}

func TestSearchFilter(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	_, err := eng.IndexBatch(context.Background(), []Document{
		{ID: "r1", Text: "Alpha violence severe", Payload: map[string]any{"rating": "R"}},
		{ID: "r2", Text: "Alpha violence mild", Payload: map[string]any{"rating": "PG"}},
	})
	require.NoError(t, err)

	resp, err := eng.Search(context.Background(), "violence", SearchOptions{
		TopK:     5,
		Strategy: router.StrategyVector,
		Filter:   vector.Filter{"rating": "PG"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "r2", resp.Results[0].ID)
}

func TestMetricsAccumulate(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	seedCorpus(t, eng)

	_, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: 3})
	require.NoError(t, err)
	_, err = eng.Search(context.Background(), "romance", SearchOptions{TopK: 3})
	require.NoError(t, err)

	snap := eng.Metrics(context.Background())
	assert.EqualValues(t, 2, snap.Searches)
	assert.EqualValues(t, 3, snap.IndexedCount)
	assert.Equal(t, "healthy", snap.ComponentHealth.Status)
	assert.EqualValues(t, 3, snap.ComponentHealth.Documents)
	assert.Equal(t, 3, snap.ComponentHealth.Lexical)
}

func TestNegativeTopKReturnsEmpty(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})
	seedCorpus(t, eng)

	resp, err := eng.Search(context.Background(), "violence", SearchOptions{TopK: -1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded)
}

func TestMismatchedChainDimensionFailsStartup(t *testing.T) {
	cfg := testConfig()

	_, err := New(context.Background(), cfg, Options{
		Providers: []embedding.Provider{embedding.NewMockProvider(16)},
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestSearchValidation(t *testing.T) {
	eng := newTestEngine(t, testConfig(), Options{})

	_, err := eng.Search(context.Background(), "   ", SearchOptions{TopK: 3})
	assert.Error(t, err)
}
