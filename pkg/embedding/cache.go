package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/unicode/norm"
)

// cacheKeyPrefix namespaces embedding entries in the shared backend.
const cacheKeyPrefix = "emb:"

// Cache stores embedding vectors keyed on (provider-id, sha256 of the
// normalised text). It is best-effort: every failure is a miss or a
// no-op, never an error, and the chain above always has a path that
// produces the vector afresh.
//
// A nil Cache or a Cache with a nil client is valid and degrades to
// all-misses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a cache over the given redis client.
// A nil client disables the cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached vector for (providerID, text), or false on miss.
func (c *Cache) Get(ctx context.Context, providerID, text string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, cacheKey(providerID, text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("Embedding cache get failed", "provider", providerID, "error", err)
		}
		return nil, false
	}

	vec, ok := decodeVector(data)
	if !ok {
		return nil, false
	}
	return vec, true
}

// Put stores a vector, overwriting any prior entry. Failures are dropped.
func (c *Cache) Put(ctx context.Context, providerID, text string, vector []float32) {
	if c == nil || c.client == nil || len(vector) == 0 {
		return
	}

	if err := c.client.Set(ctx, cacheKey(providerID, text), encodeVector(vector), c.ttl).Err(); err != nil {
		slog.Debug("Embedding cache put failed", "provider", providerID, "error", err)
	}
}

// Ping reports whether the backend is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// cacheKey builds "emb:<provider>:<hex sha256>". The text is NFC
// normalised and trimmed but not case-folded: embeddings are
// case-sensitive.
func cacheKey(providerID, text string) string {
	normalised := norm.NFC.String(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalised))
	return cacheKeyPrefix + providerID + ":" + hex.EncodeToString(sum[:])
}

// encodeVector packs the floats as little-endian float32.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector is the inverse of encodeVector. Truncated payloads are
// rejected and treated as a miss.
func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}
