// Package rag wires the embedding chain, vector store, lexical index,
// and router into one retrieval engine.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/scriptrate/ragcore/pkg/config"
	"github.com/scriptrate/ragcore/pkg/embedding"
	"github.com/scriptrate/ragcore/pkg/lexical"
	"github.com/scriptrate/ragcore/pkg/observability"
	"github.com/scriptrate/ragcore/pkg/router"
	"github.com/scriptrate/ragcore/pkg/vector"
)

// Payload keys the engine reserves on every indexed record.
const (
	payloadText       = "text"
	payloadDocumentID = "document_id"
	payloadModel      = "embedding_model"
)

// Document is one unit of content submitted for indexing. A document
// with multiple chunks shares a DocumentID across chunk records.
type Document struct {
	// ID of the record. Empty means a UUID is assigned.
	ID string

	// DocumentID groups chunks of the same source document. Empty
	// defaults to ID.
	DocumentID string

	// Text to index.
	Text string

	// Payload carries caller metadata. Reserved keys (text,
	// document_id, embedding_model) are overwritten by the engine.
	Payload map[string]any
}

// SearchOptions tunes a single engine search.
type SearchOptions struct {
	// TopK bounds the result count. Zero uses the configured default;
	// a negative value returns an empty response without touching any
	// backend.
	TopK int

	// Strategy overrides the configured routing strategy.
	Strategy router.Strategy

	// Filter restricts results by payload equality.
	Filter vector.Filter

	// Threshold is a vector score floor. Zero disables it.
	Threshold float32
}

// Health reports component status. Status is "healthy" when every
// component answers, "degraded" when only the cache is unreachable,
// and "unhealthy" when the vector store is down.
type Health struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Documents uint64 `json:"documents"`
	Lexical   int    `json:"lexical"`
	Cache     string `json:"cache"`
	Provider  string `json:"provider"`
}

// Metrics aggregates engine activity counters together with a snapshot
// of component health.
type Metrics struct {
	IndexedCount    uint64                    `json:"indexed_count"`
	Searches        int64                     `json:"searches"`
	CacheHits       int64                     `json:"cache_hits"`
	CacheHitRate    float64                   `json:"cache_hit_rate"`
	Fallbacks       int64                     `json:"fallbacks"`
	Degraded        int64                     `json:"degraded"`
	AvgSearchMs     float64                   `json:"avg_search_ms"`
	MaxSearchMs     float64                   `json:"max_search_ms"`
	ByStrategy      map[router.Strategy]int64 `json:"by_strategy"`
	ComponentHealth Health                    `json:"component_health"`
}

// Options injects pre-built components, mainly for tests. Any nil
// field is constructed from the configuration.
type Options struct {
	Store     vector.Store
	Providers []embedding.Provider
	Redis     *redis.Client
	Tracer    *observability.Tracer
	Logger    *slog.Logger
}

// Engine is the retrieval engine composition root. It owns the
// provider chain, both indexes, the router, and the shared cache
// connection.
type Engine struct {
	cfg    *config.Config
	chain  *embedding.Chain
	store  vector.Store
	lex    *lexical.Index
	router *router.Router
	rdb    *redis.Client
	ownRdb bool
	tracer *observability.Tracer
	logger *slog.Logger
}

// New builds an engine from configuration, verifies the collection,
// and rebuilds the lexical shadow index from the stored payloads.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rdb := opts.Redis
	ownRdb := false
	if rdb == nil && cfg.Cache.Embedding.BackendURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Cache.Embedding.BackendURL)
		if err != nil {
			return nil, fmt.Errorf("parsing cache backend url: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		ownRdb = true
	}

	chain, err := buildChain(cfg, opts.Providers, rdb)
	if err != nil {
		return nil, fmt.Errorf("building embedding chain: %w", err)
	}
	if chain.Dimension() != cfg.Vector.Dimension {
		return nil, fmt.Errorf("embedding chain produces dimension %d, collection expects %d: %w",
			chain.Dimension(), cfg.Vector.Dimension, vector.ErrDimensionMismatch)
	}

	store := opts.Store
	if store == nil {
		store, err = buildStore(&cfg.Vector)
		if err != nil {
			return nil, fmt.Errorf("building vector store: %w", err)
		}
	}
	if cfg.Vector.ResultCache && rdb != nil {
		resultCache := vector.NewResultCache(rdb, time.Duration(cfg.Cache.Results.TTLSec)*time.Second)
		store = vector.NewCachedStore(store, cfg.Vector.Collection, resultCache)
	}

	// A dimension mismatch between an existing collection and the
	// configuration is fatal at startup, before any write.
	if err := store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensuring collection %q: %w", cfg.Vector.Collection, err)
	}

	lex := lexical.New()
	if err := rebuildLexical(ctx, store, lex); err != nil {
		return nil, fmt.Errorf("rebuilding lexical index: %w", err)
	}

	var queryCache *router.QueryCache
	if cfg.Router.EnableCache && rdb != nil {
		queryCache = router.NewQueryCache(rdb, time.Duration(cfg.Cache.Results.TTLSec)*time.Second)
	}

	rt := router.New(router.Config{
		ConfidenceThreshold: cfg.Router.ConfidenceThreshold,
		VectorWeight:        cfg.Router.Weights.Vector,
		LexicalWeight:       cfg.Router.Weights.Lexical,
	}, chain, store, lex, queryCache, logger)

	logger.Info("retrieval engine ready",
		"store", store.Name(),
		"collection", cfg.Vector.Collection,
		"model", chain.PrimaryModelName(),
		"lexical_docs", lex.Len(),
	)

	return &Engine{
		cfg:    cfg,
		chain:  chain,
		store:  store,
		lex:    lex,
		router: rt,
		rdb:    rdb,
		ownRdb: ownRdb,
		tracer: opts.Tracer,
		logger: logger,
	}, nil
}

func buildChain(cfg *config.Config, injected []embedding.Provider, rdb *redis.Client) (*embedding.Chain, error) {
	timeout := time.Duration(cfg.Embedding.TimeoutSec) * time.Second

	providers := injected
	if len(providers) == 0 {
		switch cfg.Embedding.PrimaryProvider {
		case "remote":
			p, err := embedding.NewOpenAIProvider(cfg.Embedding.Remote, cfg.Vector.Dimension, timeout)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
			if cfg.Embedding.Local != nil {
				local, err := embedding.NewOllamaProvider(cfg.Embedding.Local, cfg.Vector.Dimension, timeout)
				if err != nil {
					return nil, err
				}
				providers = append(providers, local)
			}
		case "local":
			p, err := embedding.NewOllamaProvider(cfg.Embedding.Local, cfg.Vector.Dimension, timeout)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "mock":
			providers = append(providers, embedding.NewMockProvider(cfg.Vector.Dimension))
		default:
			return nil, fmt.Errorf("unknown primary provider %q", cfg.Embedding.PrimaryProvider)
		}
	}

	var cache *embedding.Cache
	if rdb != nil {
		cache = embedding.NewCache(rdb, time.Duration(cfg.Cache.Embedding.TTLSec)*time.Second)
	}

	return embedding.NewChain(embedding.ChainConfig{
		Providers: providers,
		Cache:     cache,
		Timeout:   timeout,
		BatchSize: cfg.Embedding.BatchSize,
	})
}

func buildStore(cfg *config.VectorConfig) (vector.Store, error) {
	switch cfg.Store {
	case "qdrant":
		return vector.NewQdrantStore(cfg)
	case "chromem":
		return vector.NewChromemStore(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.Store)
	}
}

// rebuildLexical replays every stored payload into the shadow index so
// lexical search survives process restarts without its own persistence.
func rebuildLexical(ctx context.Context, store vector.Store, lex *lexical.Index) error {
	var batch []lexical.Record
	err := store.Scroll(ctx, func(id string, payload map[string]any) error {
		text, _ := payload[payloadText].(string)
		if text == "" {
			return nil
		}
		batch = append(batch, lexical.Record{ID: id, Text: text, Payload: payload})
		if len(batch) >= 256 {
			lex.Upsert(batch)
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return err
	}
	lex.Upsert(batch)
	return nil
}

// IndexDocument indexes a single document and returns its record id.
func (e *Engine) IndexDocument(ctx context.Context, doc Document) (string, error) {
	ids, err := e.IndexBatch(ctx, []Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// IndexBatch embeds and indexes documents as one unit, returning the
// record ids in input order. Either every document in the batch lands
// in both indexes or none does. Blank documents are rejected before
// any embedding work.
func (e *Engine) IndexBatch(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	ctx, span := e.tracer.StartIndexBatch(ctx, e.cfg.Vector.Collection, len(docs))
	defer span.End()

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			return nil, fmt.Errorf("document %d has empty text", i)
		}
		texts[i] = doc.Text
	}

	ectx, embedSpan := e.tracer.StartEmbed(ctx, len(texts))
	embedded, err := e.chain.Embed(ectx, texts)
	if err != nil {
		embedSpan.End()
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	observability.EndEmbed(embedSpan, embedded[0].ProviderID, embedded[0].FromCache)

	ids := make([]string, len(docs))
	records := make([]vector.Record, len(docs))
	lexRecords := make([]lexical.Record, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		docID := doc.DocumentID
		if docID == "" {
			docID = id
		}

		payload := make(map[string]any, len(doc.Payload)+3)
		for k, v := range doc.Payload {
			payload[k] = v
		}
		payload[payloadText] = doc.Text
		payload[payloadDocumentID] = docID
		payload[payloadModel] = embedded[i].ModelName

		records[i] = vector.Record{ID: id, Vector: embedded[i].Vector, Payload: payload}
		lexRecords[i] = lexical.Record{ID: id, Text: doc.Text, Payload: payload}
	}

	if err := e.store.Upsert(ctx, records, true); err != nil {
		return nil, fmt.Errorf("upserting vectors: %w", err)
	}
	e.lex.Upsert(lexRecords)
	e.router.InvalidateCache(ctx)

	e.logger.Debug("indexed batch", "count", len(docs))
	return ids, nil
}

// DeleteDocuments removes records by id from both indexes.
func (e *Engine) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	e.lex.Remove(ids)
	e.router.InvalidateCache(ctx)
	return nil
}

// DeleteByDocumentID removes every chunk of a source document. It
// returns the number of removed records.
func (e *Engine) DeleteByDocumentID(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, errors.New("document id is required")
	}

	// Collect matching record ids first so the lexical index can be
	// kept in step with the store-side filtered delete.
	var ids []string
	err := e.store.Scroll(ctx, func(id string, payload map[string]any) error {
		if docID, _ := payload[payloadDocumentID].(string); docID == documentID {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning for document %q: %w", documentID, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := e.store.DeleteByFilter(ctx, vector.Filter{payloadDocumentID: documentID}); err != nil {
		return 0, fmt.Errorf("deleting document %q: %w", documentID, err)
	}
	e.lex.Remove(ids)
	e.router.InvalidateCache(ctx)
	return len(ids), nil
}

// Search routes a query through the configured strategy under the
// search deadline. Backend failures degrade the response rather than
// failing it; only invalid input and context cancellation return
// errors.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*router.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}

	k := opts.TopK
	if k == 0 {
		k = e.cfg.Search.DefaultTopK
	}
	strategy := opts.Strategy
	if strategy == "" {
		var err error
		strategy, err = router.ParseStrategy(e.cfg.Router.Strategy)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Search.DeadlineSec)*time.Second)
	defer cancel()

	ctx, span := e.tracer.StartSearch(ctx, e.cfg.Vector.Collection, string(strategy), k)

	resp, err := e.router.Search(ctx, query, k, router.Options{
		Strategy:  strategy,
		Filter:    opts.Filter,
		Threshold: opts.Threshold,
	})
	if err != nil {
		span.End()
		return nil, err
	}
	observability.EndSearch(span, resp.FromCache, resp.Degraded)
	return resp, nil
}

// HybridSearch forces the hybrid strategy with per-call weights.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts SearchOptions, vectorWeight, lexicalWeight float64) (*router.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}

	k := opts.TopK
	if k == 0 {
		k = e.cfg.Search.DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Search.DeadlineSec)*time.Second)
	defer cancel()

	ctx, span := e.tracer.StartSearch(ctx, e.cfg.Vector.Collection, string(router.StrategyHybrid), k)

	resp, err := e.router.Search(ctx, query, k, router.Options{
		Strategy:      router.StrategyHybrid,
		Filter:        opts.Filter,
		Threshold:     opts.Threshold,
		VectorWeight:  vectorWeight,
		LexicalWeight: lexicalWeight,
	})
	if err != nil {
		span.End()
		return nil, err
	}
	observability.EndSearch(span, resp.FromCache, resp.Degraded)
	return resp, nil
}

// Health checks each component and reports aggregate status.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:   "healthy",
		Store:    e.store.Name(),
		Lexical:  e.lex.Len(),
		Provider: e.chain.PrimaryModelName(),
		Cache:    "disabled",
	}

	info, err := e.store.Info(ctx)
	if err != nil {
		h.Status = "unhealthy"
		h.Store = fmt.Sprintf("%s (unreachable: %v)", e.store.Name(), err)
	} else {
		h.Documents = info.PointsCount
	}

	if e.rdb != nil {
		if err := e.rdb.Ping(ctx).Err(); err != nil {
			h.Cache = fmt.Sprintf("unreachable: %v", err)
			if h.Status == "healthy" {
				h.Status = "degraded"
			}
		} else {
			h.Cache = "ok"
		}
	}

	return h
}

// Metrics combines the router's counters with component health and the
// store's point count.
func (e *Engine) Metrics(ctx context.Context) Metrics {
	snap := e.router.Metrics().Snapshot()
	health := e.Health(ctx)
	m := Metrics{
		IndexedCount:    health.Documents,
		Searches:        snap.Searches,
		CacheHits:       snap.CacheHits,
		Fallbacks:       snap.Fallbacks,
		Degraded:        snap.Degraded,
		AvgSearchMs:     snap.AvgLatencyMs,
		MaxSearchMs:     snap.MaxLatencyMs,
		ByStrategy:      snap.ByStrategy,
		ComponentHealth: health,
	}
	if total := snap.Searches + snap.CacheHits; total > 0 {
		m.CacheHitRate = float64(snap.CacheHits) / float64(total)
	}
	return m
}

// Close releases components in reverse construction order.
func (e *Engine) Close() error {
	var errs []error
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := e.chain.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing embedding chain: %w", err))
	}
	if e.ownRdb && e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache connection: %w", err))
		}
	}
	if err := e.tracer.Shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracer: %w", err))
	}
	return errors.Join(errs...)
}
