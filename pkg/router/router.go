// Package router dispatches queries across the vector and lexical
// retrieval paths and merges their results.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scriptrate/ragcore/pkg/embedding"
	"github.com/scriptrate/ragcore/pkg/lexical"
	"github.com/scriptrate/ragcore/pkg/vector"
)

// Strategy selects how a query is routed.
type Strategy string

const (
	// StrategyAuto tries vector first and widens to hybrid when the
	// top score falls below the confidence threshold.
	StrategyAuto Strategy = "auto"

	// StrategyVector uses only the vector path.
	StrategyVector Strategy = "vector"

	// StrategyLexical uses only the TF-IDF path.
	StrategyLexical Strategy = "lexical"

	// StrategyHybrid runs both paths and merges with configured weights.
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy validates a strategy name. Empty means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyVector, StrategyLexical, StrategyHybrid:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown search strategy %q", s)
	}
}

// Result is one merged search hit.
type Result struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`

	// Source is "vector", "lexical", or "hybrid" when both paths
	// contributed.
	Source string `json:"source"`
}

// Response is a routed query answer.
type Response struct {
	Results []Result `json:"results"`

	// Strategy is the strategy that actually ran, which can differ
	// from the requested one under auto routing or fallback.
	Strategy Strategy `json:"strategy"`

	// Degraded reports that the preferred path failed and the
	// response was served from a reduced one.
	Degraded bool `json:"degraded"`

	// FromCache reports a query-cache hit.
	FromCache bool `json:"from_cache,omitempty"`
}

// Options tunes a single routed search.
type Options struct {
	Strategy Strategy
	Filter   vector.Filter

	// Threshold is passed to the vector store as a score floor.
	// Zero disables it.
	Threshold float32

	// VectorWeight and LexicalWeight override the configured hybrid
	// weights when both are positive.
	VectorWeight  float64
	LexicalWeight float64
}

// Config holds the router's tuning knobs.
type Config struct {
	ConfidenceThreshold float64
	VectorWeight        float64
	LexicalWeight       float64
}

// Router routes queries between the vector store and the lexical
// shadow index.
type Router struct {
	chain   *embedding.Chain
	store   vector.Store
	lex     *lexical.Index
	cache   *QueryCache
	metrics *Metrics
	cfg     Config
	logger  *slog.Logger
}

// New creates a router. cache may be nil to disable query caching.
func New(cfg Config, chain *embedding.Chain, store vector.Store, lex *lexical.Index, cache *QueryCache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		chain:   chain,
		store:   store,
		lex:     lex,
		cache:   cache,
		metrics: NewMetrics(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Metrics exposes the router's counters.
func (r *Router) Metrics() *Metrics {
	return r.metrics
}

// Lexical exposes the shadow index so the indexing path can keep it
// in step with the vector store.
func (r *Router) Lexical() *lexical.Index {
	return r.lex
}

// InvalidateCache drops cached query responses.
func (r *Router) InvalidateCache(ctx context.Context) {
	r.cache.Invalidate(ctx)
}

// Search routes a query. It returns an error only for invalid input;
// backend failures degrade the response instead, with Degraded set and
// the failure logged.
func (r *Router) Search(ctx context.Context, query string, k int, opts Options) (*Response, error) {
	if k <= 0 {
		return &Response{Results: []Result{}, Strategy: opts.Strategy}, nil
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	if cached := r.cache.Get(ctx, strategy, query, k, opts.Filter); cached != nil {
		r.metrics.recordCacheHit()
		return cached, nil
	}

	start := time.Now()
	var resp *Response
	var err error

	switch strategy {
	case StrategyVector:
		resp, err = r.searchVectorOnly(ctx, query, k, opts)
	case StrategyLexical:
		resp = r.searchLexical(query, k)
	case StrategyHybrid:
		resp, err = r.searchHybrid(ctx, query, k, opts)
	case StrategyAuto:
		resp, err = r.searchAuto(ctx, query, k, opts)
	default:
		return nil, fmt.Errorf("unknown search strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	r.metrics.recordSearch(resp.Strategy, time.Since(start), resp.Degraded)
	r.cache.Put(ctx, strategy, query, k, opts.Filter, resp)
	return resp, nil
}

// searchAuto runs the vector path and widens to hybrid when the top
// score is below the confidence threshold. Vector failure falls back
// to lexical; that is normal auto behavior, not a degraded response.
func (r *Router) searchAuto(ctx context.Context, query string, k int, opts Options) (*Response, error) {
	vecResults, err := r.searchVector(ctx, query, k, opts)
	if err != nil {
		if ctx.Err() != nil {
			return canceledResponse(StrategyAuto), nil
		}
		r.logger.Warn("vector path failed, falling back to lexical", "error", err)
		r.metrics.recordFallback()
		return r.searchLexical(query, k), nil
	}

	if len(vecResults) > 0 && float64(vecResults[0].Score) >= r.cfg.ConfidenceThreshold {
		return &Response{
			Results:  vectorResults(vecResults),
			Strategy: StrategyVector,
		}, nil
	}

	lexResults := r.lex.Search(query, k)
	merged := r.merge(vecResults, lexResults, k, opts)
	return &Response{Results: merged, Strategy: StrategyHybrid}, nil
}

// searchVectorOnly has no fallback. A backend failure yields an empty
// degraded response.
func (r *Router) searchVectorOnly(ctx context.Context, query string, k int, opts Options) (*Response, error) {
	results, err := r.searchVector(ctx, query, k, opts)
	if err != nil {
		if ctx.Err() != nil {
			return canceledResponse(StrategyVector), nil
		}
		r.logger.Warn("vector search failed", "error", err)
		return &Response{Results: []Result{}, Strategy: StrategyVector, Degraded: true}, nil
	}
	return &Response{Results: vectorResults(results), Strategy: StrategyVector}, nil
}

func (r *Router) searchLexical(query string, k int) *Response {
	results := r.lex.Search(query, k)
	out := make([]Result, 0, len(results))
	for _, lr := range results {
		out = append(out, Result{ID: lr.ID, Score: lr.Score, Payload: lr.Payload, Source: "lexical"})
	}
	return &Response{Results: out, Strategy: StrategyLexical}
}

// searchHybrid runs both paths concurrently. If exactly one path
// fails, the other's results are served degraded; both failing is an
// empty degraded response.
func (r *Router) searchHybrid(ctx context.Context, query string, k int, opts Options) (*Response, error) {
	var vecResults []vector.SearchResult
	var vecErr error
	var lexResults []lexical.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecResults, vecErr = r.searchVector(gctx, query, k, opts)
		return nil
	})
	g.Go(func() error {
		lexResults = r.lex.Search(query, k)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil {
		if ctx.Err() != nil {
			return canceledResponse(StrategyHybrid), nil
		}
		r.logger.Warn("vector path failed during hybrid search", "error", vecErr)
		resp := r.searchLexical(query, k)
		resp.Strategy = StrategyHybrid
		resp.Degraded = true
		return resp, nil
	}

	merged := r.merge(vecResults, lexResults, k, opts)
	return &Response{Results: merged, Strategy: StrategyHybrid}, nil
}

// searchVector embeds the query through the provider chain and runs
// the ANN search.
func (r *Router) searchVector(ctx context.Context, query string, k int, opts Options) ([]vector.SearchResult, error) {
	embedded, err := r.chain.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := r.store.Search(ctx, embedded.Vector, k, opts.Threshold, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return results, nil
}

// merge combines the two result sets by id with a weighted sum.
// Vector cosine scores are clamped at zero first so both signals live
// on the same [0,1] scale. A document found by only one path keeps
// only that path's weighted contribution.
func (r *Router) merge(vecResults []vector.SearchResult, lexResults []lexical.Result, k int, opts Options) []Result {
	vw, lw := r.cfg.VectorWeight, r.cfg.LexicalWeight
	if opts.VectorWeight > 0 && opts.LexicalWeight > 0 {
		vw, lw = opts.VectorWeight, opts.LexicalWeight
	}
	if sum := vw + lw; sum > 0 {
		vw, lw = vw/sum, lw/sum
	}

	type partial struct {
		vecScore float64
		lexScore float64
		hasVec   bool
		hasLex   bool
		payload  map[string]any
	}
	byID := make(map[string]*partial)
	order := make([]string, 0, len(vecResults)+len(lexResults))

	for _, vr := range vecResults {
		score := float64(vr.Score)
		if score < 0 {
			score = 0
		}
		byID[vr.ID] = &partial{vecScore: score, hasVec: true, payload: vr.Payload}
		order = append(order, vr.ID)
	}
	for _, lr := range lexResults {
		if p, ok := byID[lr.ID]; ok {
			p.lexScore = lr.Score
			p.hasLex = true
			continue
		}
		byID[lr.ID] = &partial{lexScore: lr.Score, hasLex: true, payload: lr.Payload}
		order = append(order, lr.ID)
	}

	merged := make([]Result, 0, len(order))
	for _, id := range order {
		p := byID[id]
		source := "hybrid"
		if !p.hasLex {
			source = "vector"
		} else if !p.hasVec {
			source = "lexical"
		}
		merged = append(merged, Result{
			ID:      id,
			Score:   vw*p.vecScore + lw*p.lexScore,
			Payload: p.payload,
			Source:  source,
		})
	}

	sortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// canceledResponse is what a timed-out or canceled search yields: an
// empty degraded result set rather than an error. Degraded responses
// are never cached, so a canceled query leaves no cache entry.
func canceledResponse(strategy Strategy) *Response {
	return &Response{Results: []Result{}, Strategy: strategy, Degraded: true}
}

func vectorResults(in []vector.SearchResult) []Result {
	out := make([]Result, 0, len(in))
	for _, vr := range in {
		score := float64(vr.Score)
		if score < 0 {
			score = 0
		}
		out = append(out, Result{ID: vr.ID, Score: score, Payload: vr.Payload, Source: "vector"})
	}
	return out
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
