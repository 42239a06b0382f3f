package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultTimeout is the per-provider call deadline.
	DefaultTimeout = 10 * time.Second

	// DefaultBatchSize bounds the number of texts per provider call.
	DefaultBatchSize = 50

	// breakerWindow is the sliding window over which provider failures
	// are counted.
	breakerWindow = 60 * time.Second

	// breakerCooldown is how long a tripped provider is skipped before
	// it is probed again.
	breakerCooldown = 30 * time.Second
)

// ChainConfig configures the provider chain.
type ChainConfig struct {
	// Providers in fallback order. If the last provider is not the
	// mock provider, a terminal mock with the first provider's
	// dimension is appended so the chain always succeeds.
	Providers []Provider

	// Cache for embedding vectors (optional).
	Cache *Cache

	// Timeout is the per-provider call deadline.
	Timeout time.Duration

	// BatchSize bounds the number of texts per provider call.
	BatchSize int
}

// Chain walks an ordered list of providers with cache, timeout, and
// circuit-breaker fallback semantics. Provider failures never surface
// to the caller; the terminal mock provider succeeds by construction.
// The only hard failures are cancellation and malformed input.
type Chain struct {
	providers []Provider
	breakers  []*gobreaker.CircuitBreaker
	cache     *Cache
	timeout   time.Duration
	batchSize int
}

// NewChain creates a provider chain.
func NewChain(cfg ChainConfig) (*Chain, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	providers := cfg.Providers
	if _, ok := providers[len(providers)-1].(*MockProvider); !ok {
		providers = append(providers, NewMockProvider(providers[0].Dimension()))
	}

	for _, p := range providers {
		if p.Dimension() != providers[0].Dimension() {
			return nil, fmt.Errorf("provider %s dimension %d does not match chain dimension %d",
				p.ID(), p.Dimension(), providers[0].Dimension())
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// The terminal mock has no breaker: it cannot fail and must never
	// be skipped.
	breakers := make([]*gobreaker.CircuitBreaker, len(providers))
	for i, p := range providers[:len(providers)-1] {
		breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "embedder-" + p.ID(),
			Interval: breakerWindow,
			Timeout:  breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 &&
					float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		})
	}

	return &Chain{
		providers: providers,
		breakers:  breakers,
		cache:     cfg.Cache,
		timeout:   timeout,
		batchSize: batchSize,
	}, nil
}

// Dimension returns the chain's output dimensionality.
func (c *Chain) Dimension() int {
	return c.providers[0].Dimension()
}

// PrimaryModelName returns the first provider's model identifier.
func (c *Chain) PrimaryModelName() string {
	return c.providers[0].ModelName()
}

// EmbedOne embeds a single text.
func (c *Chain) EmbedOne(ctx context.Context, text string) (Result, error) {
	results, err := c.Embed(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// Embed converts texts to vectors, preserving input order. Cached and
// freshly computed entries are interleaved; each result carries the id
// of the provider that produced it.
func (c *Chain) Embed(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return []Result{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, NewProviderError("chain", KindPermanent,
				fmt.Sprintf("text %d is empty", i), nil)
		}
	}

	results := make([]Result, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// embedBatch runs the fallback loop for a single bounded batch.
func (c *Chain) embedBatch(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	filled := make([]bool, len(texts))
	remaining := len(texts)

	fallback := false
	var errs []error

	for pi, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if cb := c.breakers[pi]; cb != nil && cb.State() == gobreaker.StateOpen {
			fallback = true
			continue
		}

		// Probe the cache per text under this provider's id.
		if p.Deterministic() {
			for i := range texts {
				if filled[i] {
					continue
				}
				if vec, ok := c.cache.Get(ctx, p.ID(), texts[i]); ok {
					results[i] = Result{
						Vector:       vec,
						ProviderID:   p.ID(),
						ModelName:    p.ModelName(),
						FromCache:    true,
						FallbackUsed: fallback,
					}
					filled[i] = true
					remaining--
				}
			}
		}
		if remaining == 0 {
			return results, nil
		}

		missIdx := make([]int, 0, remaining)
		missTexts := make([]string, 0, remaining)
		for i := range texts {
			if !filled[i] {
				missIdx = append(missIdx, i)
				missTexts = append(missTexts, texts[i])
			}
		}

		vectors, err := c.invoke(ctx, pi, p, missTexts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("Embedding provider failed, falling through",
				"provider", p.ID(), "kind", KindOf(err), "error", err)
			errs = append(errs, err)
			fallback = true
			continue
		}

		for j, i := range missIdx {
			results[i] = Result{
				Vector:       vectors[j],
				ProviderID:   p.ID(),
				ModelName:    p.ModelName(),
				FallbackUsed: fallback,
			}
			filled[i] = true
		}
		if p.Deterministic() {
			for j, i := range missIdx {
				c.cache.Put(ctx, p.ID(), texts[i], vectors[j])
			}
		}
		return results, nil
	}

	// Unreachable with a terminal mock, kept for completeness.
	return nil, errors.Join(errs...)
}

// invoke runs one provider call under its timeout and breaker.
func (c *Chain) invoke(ctx context.Context, pi int, p Provider, texts []string) ([][]float32, error) {
	call := func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		vectors, err := p.Embed(cctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, NewProviderError(p.ID(), KindPermanent,
				fmt.Sprintf("expected %d vectors, got %d", len(texts), len(vectors)), nil)
		}
		return vectors, nil
	}

	if cb := c.breakers[pi]; cb != nil {
		v, err := cb.Execute(call)
		if err != nil {
			return nil, err
		}
		return v.([][]float32), nil
	}

	v, err := call()
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

// Close releases all providers in reverse order.
func (c *Chain) Close() error {
	var errs []error
	for i := len(c.providers) - 1; i >= 0; i-- {
		if err := c.providers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
