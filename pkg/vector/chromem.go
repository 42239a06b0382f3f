package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/scriptrate/ragcore/pkg/config"
)

// ChromemStore implements Store using chromem-go for embedded vector
// storage. No external services; vectors live in memory with optional
// file persistence. Cosine similarity only.
//
// chromem cannot enumerate documents, so the store mirrors payloads in
// a map to serve Scroll and filter deletes. The mirror covers records
// written through this process; a persisted database reopened later
// still answers similarity queries, but Scroll and filtered deletes
// only see records upserted since startup.
type ChromemStore struct {
	db         *chromem.DB
	collection string
	dimension  int

	mu       sync.RWMutex
	col      *chromem.Collection
	payloads map[string]map[string]any
}

// NewChromemStore creates an embedded store from configuration.
func NewChromemStore(cfg *config.VectorConfig) (*ChromemStore, error) {
	if cfg.Metric != "" && cfg.Metric != "cosine" {
		return nil, fmt.Errorf("chromem store supports only cosine metric, got %q", cfg.Metric)
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector database: %w", err)
		}
		slog.Info("Opened embedded vector database", "path", cfg.PersistPath)
	} else {
		db = chromem.NewDB()
		slog.Debug("Created in-memory vector database")
	}

	return &ChromemStore{
		db:         db,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		payloads:   make(map[string]map[string]any),
	}, nil
}

// Name returns "chromem".
func (s *ChromemStore) Name() string { return "chromem" }

// EnsureCollection creates or reopens the collection.
func (s *ChromemStore) EnsureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col != nil {
		return nil
	}

	// Vectors are pre-computed by the embedding chain; the embedding
	// function must never run.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding requested from store, vectors must be pre-computed")
	}

	col, err := s.db.GetOrCreateCollection(s.collection, nil, identity)
	if err != nil {
		return newStoreError("ensure-collection", err)
	}
	s.col = col
	return nil
}

// Upsert inserts or replaces records by id.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record, wait bool) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Vector) != s.dimension {
			return newStoreError("upsert", fmt.Errorf(
				"record %s has dimension %d, collection expects %d: %w",
				r.ID, len(r.Vector), s.dimension, ErrDimensionMismatch))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return newStoreError("upsert", fmt.Errorf("collection not initialised"))
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		metadata := make(map[string]string, len(r.Payload))
		content := ""
		for k, v := range r.Payload {
			metadata[k] = fmt.Sprint(v)
		}
		if text, ok := r.Payload["text"].(string); ok {
			content = text
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   content,
			Metadata:  metadata,
			Embedding: r.Vector,
		})
	}

	// AddDocuments replaces by id, so re-submitting is idempotent.
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return newStoreError("upsert", err)
	}

	for _, r := range records {
		payload := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			payload[k] = v
		}
		s.payloads[r.ID] = payload
	}
	return nil
}

// Delete removes records by id. Absent ids are ignored.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return newStoreError("delete", fmt.Errorf("collection not initialised"))
	}

	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.payloads[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}

	if err := s.col.Delete(ctx, nil, nil, present...); err != nil {
		return newStoreError("delete", err)
	}
	for _, id := range present {
		delete(s.payloads, id)
	}
	return nil
}

// DeleteByFilter removes all records whose payload matches the filter.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	s.mu.RLock()
	var ids []string
	for id, payload := range s.payloads {
		if matchesFilter(payload, filter) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	return s.Delete(ctx, ids)
}

// Search returns up to k records ordered by similarity descending.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int, threshold float32, filter Filter) ([]SearchResult, error) {
	if k <= 0 {
		return []SearchResult{}, nil
	}
	if len(vector) != s.dimension {
		return nil, newStoreError("search", fmt.Errorf(
			"query has dimension %d, collection expects %d: %w",
			len(vector), s.dimension, ErrDimensionMismatch))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.col == nil {
		return nil, newStoreError("search", fmt.Errorf("collection not initialised"))
	}

	// chromem rejects nResults above the matching document count, so
	// clamp k to the number of candidates the filter leaves.
	candidates := s.col.Count()
	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for key, value := range filter {
			where[key] = fmt.Sprint(value)
		}
		candidates = 0
		for _, payload := range s.payloads {
			if matchesFilter(payload, filter) {
				candidates++
			}
		}
	}
	if k > candidates {
		k = candidates
	}
	if k == 0 {
		return []SearchResult{}, nil
	}

	matches, err := s.col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, newStoreError("search", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		if threshold > 0 && m.Similarity < threshold {
			continue
		}
		payload := s.payloads[m.ID]
		if payload == nil {
			payload = make(map[string]any, len(m.Metadata))
			for k, v := range m.Metadata {
				payload[k] = v
			}
		}
		results = append(results, SearchResult{
			ID:      m.ID,
			Score:   m.Similarity,
			Payload: payload,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Scroll visits every record's id and payload.
func (s *ChromemStore) Scroll(ctx context.Context, fn func(id string, payload map[string]any) error) error {
	s.mu.RLock()
	snapshot := make(map[string]map[string]any, len(s.payloads))
	for id, payload := range s.payloads {
		snapshot[id] = payload
	}
	s.mu.RUnlock()

	for id, payload := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id, payload); err != nil {
			return err
		}
	}
	return nil
}

// Info returns collection statistics.
func (s *ChromemStore) Info(ctx context.Context) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := uint64(0)
	if s.col != nil {
		count = uint64(s.col.Count())
	}
	return &CollectionInfo{
		PointsCount:  count,
		IndexedCount: count,
		Status:       "green",
	}, nil
}

// Close is a no-op for the in-memory database.
func (s *ChromemStore) Close() error { return nil }

func matchesFilter(payload map[string]any, filter Filter) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

var _ Store = (*ChromemStore)(nil)
