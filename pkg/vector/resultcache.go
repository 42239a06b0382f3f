package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// resultKeyPrefix namespaces search-result entries in the shared backend.
const resultKeyPrefix = "vq:"

// fingerprintComponents is how many leading vector components join the
// cache key verbatim. The rest of the vector is folded into a hash;
// collisions surface as cache misses, never as wrong results, because
// the full key includes k, threshold, and filter.
const fingerprintComponents = 8

// ResultCache stores vector search results keyed on a query-vector
// fingerprint. Best-effort; all failures degrade to misses.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a result cache over the given redis client.
// A nil client disables the cache.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Get returns cached results for the query, or false on miss.
func (c *ResultCache) Get(ctx context.Context, collection string, vector []float32, k int, threshold float32, filter Filter) ([]SearchResult, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, resultKey(collection, vector, k, threshold, filter)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("Result cache get failed", "error", err)
		}
		return nil, false
	}

	var results []SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

// Put stores results for the query. Failures are dropped.
func (c *ResultCache) Put(ctx context.Context, collection string, vector []float32, k int, threshold float32, filter Filter, results []SearchResult) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, resultKey(collection, vector, k, threshold, filter), data, c.ttl).Err(); err != nil {
		slog.Debug("Result cache put failed", "error", err)
	}
}

func resultKey(collection string, vector []float32, k int, threshold float32, filter Filter) string {
	h := fnv.New64a()
	for _, v := range vector {
		var buf [4]byte
		bits := math.Float32bits(v)
		buf[0] = byte(bits)
		buf[1] = byte(bits >> 8)
		buf[2] = byte(bits >> 16)
		buf[3] = byte(bits >> 24)
		h.Write(buf[:])
	}

	head := ""
	for i := 0; i < fingerprintComponents && i < len(vector); i++ {
		head += fmt.Sprintf("%.4f,", vector[i])
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	filterPart := ""
	for _, key := range keys {
		filterPart += fmt.Sprintf("%s=%v;", key, filter[key])
	}

	return fmt.Sprintf("%s%s:%s%x:%d:%.4f:%s", resultKeyPrefix, collection, head, h.Sum64(), k, threshold, filterPart)
}

// CachedStore wraps a Store with the search-result cache. All other
// operations pass through.
type CachedStore struct {
	Store
	collection string
	cache      *ResultCache
}

// NewCachedStore decorates a store with result caching.
func NewCachedStore(store Store, collection string, cache *ResultCache) *CachedStore {
	return &CachedStore{Store: store, collection: collection, cache: cache}
}

// Search serves from the cache when possible, recomputing on miss.
func (s *CachedStore) Search(ctx context.Context, vector []float32, k int, threshold float32, filter Filter) ([]SearchResult, error) {
	if results, ok := s.cache.Get(ctx, s.collection, vector, k, threshold, filter); ok {
		return results, nil
	}

	results, err := s.Store.Search(ctx, vector, k, threshold, filter)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, s.collection, vector, k, threshold, filter, results)
	return results, nil
}

var _ Store = (*CachedStore)(nil)
