package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/scriptrate/ragcore/pkg/config"
)

// QdrantStore implements Store over the Qdrant gRPC API.
//
// The store is collection-scoped: all operations act on the collection
// named at construction. Upserts are split into bounded batches and
// serialised through a one-slot queue so concurrent callers apply
// backpressure instead of failing.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
	hnsw       config.HNSWConfig
	batchSize  int
	timeout    time.Duration

	// upsertSlot serialises batch upserts; callers block until the
	// slot frees.
	upsertSlot chan struct{}
}

// NewQdrantStore creates a Qdrant-backed store from configuration.
func NewQdrantStore(cfg *config.VectorConfig) (*QdrantStore, error) {
	useTLS := false
	if cfg.EnableTLS != nil {
		useTLS = *cfg.EnableTLS
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.StoreURL,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", cfg.StoreURL, cfg.Port, err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		metric:     cfg.Metric,
		hnsw:       cfg.HNSW,
		batchSize:  cfg.BatchSize,
		timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		upsertSlot: make(chan struct{}, 1),
	}, nil
}

// Name returns "qdrant".
func (s *QdrantStore) Name() string { return "qdrant" }

func (s *QdrantStore) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureCollection creates the collection with the configured
// dimension, metric, and HNSW parameters, or verifies the dimension of
// an existing one.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	exists, err := s.client.CollectionExists(cctx, s.collection)
	if err != nil {
		return newStoreError("ensure-collection", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(cctx, s.collection)
		if err != nil {
			return newStoreError("ensure-collection", err)
		}
		if params := collectionVectorParams(info); params != nil && params.Size != uint64(s.dimension) {
			return newStoreError("ensure-collection", fmt.Errorf(
				"collection %q has dimension %d, configured %d: %w",
				s.collection, params.Size, s.dimension, ErrDimensionMismatch))
		}
		return nil
	}

	err = s.client.CreateCollection(cctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: distanceOf(s.metric),
		}),
		HnswConfig: &qdrant.HnswConfigDiff{
			M:           ptr(uint64(s.hnsw.M)),
			EfConstruct: ptr(uint64(s.hnsw.EfConstruct)),
		},
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return newStoreError("ensure-collection", err)
	}
	return nil
}

// Upsert inserts or replaces records, splitting into batches of the
// configured size. Each batch awaits the previous one.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record, wait bool) error {
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

	select {
	case s.upsertSlot <- struct{}{}:
	case <-ctx.Done():
		return newStoreError("upsert", ctx.Err())
	}
	defer func() { <-s.upsertSlot }()

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertBatch(ctx, records[start:end], wait); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) upsertBatch(ctx context.Context, records []Record, wait bool) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := make(map[string]*qdrant.Value, len(r.Payload))
		for key, value := range r.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return newStoreError("upsert", fmt.Errorf("payload key %s: %w", key, err))
			}
			payload[key] = val
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err := s.client.Upsert(cctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return newStoreError("upsert", err)
	}
	return nil
}

// Delete removes records by id.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: id},
		})
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	wait := true
	_, err := s.client.Delete(cctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return newStoreError("delete", err)
	}
	return nil
}

// DeleteByFilter removes all records matching the payload filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	wait := true
	_, err := s.client.Delete(cctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildFilter(filter),
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return newStoreError("delete-by-filter", err)
	}
	return nil
}

// Search returns up to k records ordered by score descending.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, threshold float32, filter Filter) ([]SearchResult, error) {
	if k <= 0 {
		return []SearchResult{}, nil
	}
	if len(vector) != s.dimension {
		return nil, newStoreError("search", fmt.Errorf(
			"query has dimension %d, collection expects %d: %w",
			len(vector), s.dimension, ErrDimensionMismatch))
	}

	request := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		request.ScoreThreshold = &threshold
	}
	if len(filter) > 0 {
		request.Filter = buildFilter(filter)
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	response, err := s.client.GetPointsClient().Search(cctx, request)
	if err != nil {
		return nil, newStoreError("search", err)
	}

	results := make([]SearchResult, 0, len(response.Result))
	for _, point := range response.Result {
		results = append(results, SearchResult{
			ID:      pointIDString(point.Id),
			Score:   point.Score,
			Payload: payloadToMap(point.Payload),
		})
	}
	return results, nil
}

// Scroll visits every record in the collection, page by page.
func (s *QdrantStore) Scroll(ctx context.Context, fn func(id string, payload map[string]any) error) error {
	points := s.client.GetPointsClient()

	var offset *qdrant.PointId
	for {
		cctx, cancel := s.callCtx(ctx)
		response, err := points.Scroll(cctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          ptr(uint32(256)),
			WithPayload:    qdrant.NewWithPayload(true),
			Offset:         offset,
		})
		cancel()
		if err != nil {
			return newStoreError("scroll", err)
		}

		for _, point := range response.Result {
			if err := fn(pointIDString(point.Id), payloadToMap(point.Payload)); err != nil {
				return err
			}
		}

		offset = response.NextPageOffset
		if offset == nil {
			return nil
		}
	}
}

// Info returns collection statistics.
func (s *QdrantStore) Info(ctx context.Context) (*CollectionInfo, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	info, err := s.client.GetCollectionInfo(cctx, s.collection)
	if err != nil {
		return nil, newStoreError("info", err)
	}

	out := &CollectionInfo{Status: info.Status.String()}
	if info.PointsCount != nil {
		out.PointsCount = *info.PointsCount
	}
	if info.IndexedVectorsCount != nil {
		out.IndexedCount = *info.IndexedVectorsCount
	}
	return out, nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter converts an equality filter to a Must conjunction.
func buildFilter(filter Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: val.GetStringValue(),
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			out[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			out[key] = v.BoolValue
		default:
			out[key] = value
		}
	}
	return out
}

func collectionVectorParams(info *qdrant.CollectionInfo) *qdrant.VectorParams {
	if info == nil || info.Config == nil || info.Config.Params == nil || info.Config.Params.VectorsConfig == nil {
		return nil
	}
	return info.Config.Params.VectorsConfig.GetParams()
}

func distanceOf(metric string) qdrant.Distance {
	switch metric {
	case "euclid":
		return qdrant.Distance_Euclid
	case "dot":
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func ptr[T any](v T) *T {
	return &v
}

var _ Store = (*QdrantStore)(nil)
