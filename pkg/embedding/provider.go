package embedding

import (
	"context"
)

// Provider converts texts to dense vectors.
//
// Implementations form a closed variant set: OpenAIProvider (remote API),
// OllamaProvider (local model server), and MockProvider (deterministic
// terminal fallback). The chain walks them in order.
type Provider interface {
	// ID identifies the provider for cache keys and result tagging.
	ID() string

	// ModelName returns the embedding model identifier.
	ModelName() string

	// Dimension returns the output vector dimensionality.
	Dimension() int

	// Deterministic reports whether two embeddings of the same text
	// are bit-identical. Non-deterministic providers are never cached.
	Deterministic() bool

	// Embed converts texts to vectors, preserving input order.
	// The call is all-or-nothing: a partial result is an error.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases provider resources.
	Close() error
}

// Result is a single embedded text with its provenance.
type Result struct {
	// Vector is the dense embedding.
	Vector []float32

	// ProviderID identifies the provider that produced the vector.
	ProviderID string

	// ModelName of the producing provider.
	ModelName string

	// FromCache is true when the vector was served from the cache.
	FromCache bool

	// FallbackUsed is true when at least one earlier provider in the
	// chain failed or was skipped before this vector was produced.
	FallbackUsed bool
}
