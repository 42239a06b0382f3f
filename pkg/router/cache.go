package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scriptrate/ragcore/pkg/vector"
)

const queryKeyPrefix = "rq:"

// QueryCache memoizes routed query responses in Redis. A nil client
// disables caching; all methods become no-ops.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQueryCache creates a query cache with the given TTL. ttl <= 0
// falls back to one hour.
func NewQueryCache(client *redis.Client, ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &QueryCache{client: client, ttl: ttl}
}

// Get returns the cached response for the query, or nil on a miss.
func (c *QueryCache) Get(ctx context.Context, strategy Strategy, query string, k int, filter vector.Filter) *Response {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, queryKey(strategy, query, k, filter)).Bytes()
	if err != nil {
		return nil
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	resp.FromCache = true
	return &resp
}

// Put stores a response. Degraded responses are never cached; they
// reflect a transient failure, not the query's answer.
func (c *QueryCache) Put(ctx context.Context, strategy Strategy, query string, k int, filter vector.Filter, resp *Response) {
	if c == nil || c.client == nil || resp == nil || resp.Degraded {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.Set(ctx, queryKey(strategy, query, k, filter), data, c.ttl)
}

// Invalidate drops all cached query responses. Called after writes so
// stale result sets never outlive an index mutation.
func (c *QueryCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, queryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}

func queryKey(strategy Strategy, query string, k int, filter vector.Filter) string {
	var b strings.Builder
	b.WriteString(string(strategy))
	b.WriteByte('|')
	b.WriteString(query)
	fmt.Fprintf(&b, "|%d", k)

	if len(filter) > 0 {
		keys := make([]string, 0, len(filter))
		for key := range filter {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "|%s=%v", key, filter[key])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return queryKeyPrefix + hex.EncodeToString(sum[:])
}
