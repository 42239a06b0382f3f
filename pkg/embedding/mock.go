package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// MockProvider produces deterministic hash-seeded embeddings with no
// external dependencies. It is the terminal member of every chain and
// succeeds by construction, so the chain is never empty-handed.
//
// Each token contributes two signed coordinates chosen by its sha256
// digest, so texts sharing tokens have correlated vectors. That is enough
// signal for similarity tests without any model.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider with the given dimensionality.
func NewMockProvider(dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockProvider{dimension: dimension}
}

// ID returns "mock".
func (p *MockProvider) ID() string { return "mock" }

// ModelName returns the synthetic model identifier.
func (p *MockProvider) ModelName() string { return "mock-hash-embedder" }

// Dimension returns the configured dimensionality.
func (p *MockProvider) Dimension() int { return p.dimension }

// Deterministic always returns true.
func (p *MockProvider) Deterministic() bool { return true }

// Embed converts texts to hash-seeded unit vectors, preserving order.
func (p *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embedOne(text)
	}
	return vectors, nil
}

func (p *MockProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := sha256.Sum256([]byte(token))

		idx := binary.LittleEndian.Uint64(h[0:8]) % uint64(p.dimension)
		if h[8]&1 == 0 {
			vec[idx] += 1
		} else {
			vec[idx] -= 1
		}

		idx = binary.LittleEndian.Uint64(h[9:17]) % uint64(p.dimension)
		if h[17]&1 == 0 {
			vec[idx] += 1
		} else {
			vec[idx] -= 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Close is a no-op.
func (p *MockProvider) Close() error { return nil }

var _ Provider = (*MockProvider)(nil)
