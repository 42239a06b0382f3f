package vector

import (
	"context"
)

// Record is a single indexed chunk: id, dense vector, and payload.
// The payload mirrors the caller's metadata plus "text" and
// "embedding_model"; it is queryable for equality filters.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is one k-NN match, score descending order is guaranteed
// by every Store implementation.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter is a conjunction of equality predicates against payload
// scalars. Missing fields match nothing.
type Filter map[string]any

// CollectionInfo summarises the active collection.
type CollectionInfo struct {
	PointsCount  uint64
	IndexedCount uint64
	Status       string
}

// Store is a collection-scoped facade over a vector database. One
// process holds exactly one active collection.
type Store interface {
	// Name returns the backend name.
	Name() string

	// EnsureCollection creates the collection if absent and verifies
	// the dimension of an existing one. A dimension mismatch is a
	// fatal startup error.
	EnsureCollection(ctx context.Context) error

	// Upsert inserts or replaces records by id. Batched internally;
	// when wait is true the call returns only once the records are
	// queryable.
	Upsert(ctx context.Context, records []Record, wait bool) error

	// Delete removes records by id. Deleting an absent id succeeds.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes all records whose payload matches the
	// filter.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Search returns up to k records ordered by score descending.
	// Results below threshold are culled; threshold <= 0 disables it.
	Search(ctx context.Context, vector []float32, k int, threshold float32, filter Filter) ([]SearchResult, error)

	// Scroll visits every record's id and payload. Used to rebuild
	// the lexical shadow index on startup.
	Scroll(ctx context.Context, fn func(id string, payload map[string]any) error) error

	// Info returns collection statistics.
	Info(ctx context.Context) (*CollectionInfo, error)

	// Close releases the backend connection.
	Close() error
}
