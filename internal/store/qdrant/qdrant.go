// Package qdrant decorates another memory.Store with Qdrant-backed vector
// search, adapted from the teacher's Qdrant vector store client. Record
// storage (text, tags, counters, relationships, patterns, weights, cache,
// metrics) stays with the wrapped delegate; only SearchByVector and the
// embedding side of Create/Update/DeleteMemory route through Qdrant.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"adaptivememory/internal/memory"
)

const payloadPrincipalField = "_principal_id"

// Store wraps a delegate memory.Store, replacing its embedding index with a
// Qdrant collection. It is itself a memory.Store.
type Store struct {
	delegate   memory.Store
	client     *qdrant.Client
	collection string
	dimension  int
}

// New dials Qdrant over gRPC (default port 6334) and ensures the collection
// exists, then returns a Store that delegates everything but vector search
// to delegate.
func New(delegate memory.Store, dsn, collection string, dimensions int, metric string) (*Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	config := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		config.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		config.APIKey = apiKey
	}
	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &Store{delegate: delegate, client: client, collection: collection, dimension: dimensions}
	if err := s.ensureCollection(context.Background(), strings.ToLower(strings.TrimSpace(metric))); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, metric string) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	if s.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: distance,
		}),
	})
}

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (s *Store) upsertVector(ctx context.Context, m *memory.Memory) error {
	if len(m.Embedding) == 0 {
		return nil
	}
	vec := make([]float32, len(m.Embedding))
	copy(vec, m.Embedding)
	payload := qdrant.NewValueMap(map[string]any{
		"_original_id":         m.ID,
		payloadPrincipalField: m.PrincipalID,
	})
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(m.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

func (s *Store) deleteVector(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	return err
}

func (s *Store) CreateMemory(ctx context.Context, m *memory.Memory) error {
	if err := s.delegate.CreateMemory(ctx, m); err != nil {
		return err
	}
	return s.upsertVector(ctx, m)
}

func (s *Store) GetMemory(ctx context.Context, principalID, id string) (*memory.Memory, error) {
	return s.delegate.GetMemory(ctx, principalID, id)
}

func (s *Store) UpdateMemory(ctx context.Context, principalID, id string, mutate func(*memory.Memory) error) (*memory.Memory, error) {
	m, err := s.delegate.UpdateMemory(ctx, principalID, id, mutate)
	if err != nil {
		return nil, err
	}
	if err := s.upsertVector(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMemory(ctx context.Context, principalID, id string) error {
	if err := s.deleteVector(ctx, id); err != nil {
		return err
	}
	return s.delegate.DeleteMemory(ctx, principalID, id)
}

func (s *Store) ListMemories(ctx context.Context, principalID string, limit, offset int) ([]*memory.Memory, error) {
	return s.delegate.ListMemories(ctx, principalID, limit, offset)
}

// SearchByVector queries Qdrant for nearest neighbours scoped to principalID,
// then hydrates each hit's full record from the delegate.
func (s *Store) SearchByVector(ctx context.Context, principalID string, vector []float32, k int) ([]memory.VectorHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadPrincipalField, principalID)}},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]memory.VectorHit, 0, len(result))
	for _, hit := range result {
		originalID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload["_original_id"]; ok {
				originalID = v.GetStringValue()
			}
		}
		if originalID == "" {
			continue
		}
		m, err := s.delegate.GetMemory(ctx, principalID, originalID)
		if err != nil {
			continue
		}
		out = append(out, memory.VectorHit{Memory: m, BaseSimilarity: float64(hit.Score)})
	}
	return out, nil
}

func (s *Store) IncrementUsage(ctx context.Context, principalID, id string, contextLabel string, now time.Time) error {
	return s.delegate.IncrementUsage(ctx, principalID, id, contextLabel, now)
}

func (s *Store) AppendAccessEvent(ctx context.Context, ev *memory.AccessEvent) error {
	return s.delegate.AppendAccessEvent(ctx, ev)
}

func (s *Store) ListAccessEvents(ctx context.Context, principalID string, since time.Time) ([]*memory.AccessEvent, error) {
	return s.delegate.ListAccessEvents(ctx, principalID, since)
}

func (s *Store) CreateRelationship(ctx context.Context, r *memory.Relationship) error {
	return s.delegate.CreateRelationship(ctx, r)
}

func (s *Store) RelationshipExists(ctx context.Context, principalID, from, to string) (bool, error) {
	return s.delegate.RelationshipExists(ctx, principalID, from, to)
}

func (s *Store) ListRelationshipsFrom(ctx context.Context, principalID, fromID string) ([]*memory.Relationship, error) {
	return s.delegate.ListRelationshipsFrom(ctx, principalID, fromID)
}

func (s *Store) ListRelationshipsForPrincipal(ctx context.Context, principalID string) ([]*memory.Relationship, error) {
	return s.delegate.ListRelationshipsForPrincipal(ctx, principalID)
}

func (s *Store) DeleteRelationshipsForMemory(ctx context.Context, principalID, memoryID string) error {
	return s.delegate.DeleteRelationshipsForMemory(ctx, principalID, memoryID)
}

func (s *Store) UpsertPattern(ctx context.Context, p *memory.TemporalPattern) (*memory.TemporalPattern, error) {
	return s.delegate.UpsertPattern(ctx, p)
}

func (s *Store) ListPatterns(ctx context.Context, principalID string) ([]*memory.TemporalPattern, error) {
	return s.delegate.ListPatterns(ctx, principalID)
}

func (s *Store) GetOrCreateWeights(ctx context.Context, principalID string) (*memory.LearningWeights, error) {
	return s.delegate.GetOrCreateWeights(ctx, principalID)
}

func (s *Store) UpdateWeights(ctx context.Context, principalID string, mutate func(*memory.LearningWeights) error) (*memory.LearningWeights, error) {
	return s.delegate.UpdateWeights(ctx, principalID, mutate)
}

func (s *Store) GetCacheEntry(ctx context.Context, principalID, cacheKey string) (*memory.PredictionCacheEntry, bool, error) {
	return s.delegate.GetCacheEntry(ctx, principalID, cacheKey)
}

func (s *Store) PutCacheEntry(ctx context.Context, e *memory.PredictionCacheEntry) error {
	return s.delegate.PutCacheEntry(ctx, e)
}

func (s *Store) EvictCacheForMemory(ctx context.Context, principalID, memoryID string) error {
	return s.delegate.EvictCacheForMemory(ctx, principalID, memoryID)
}

func (s *Store) ListPrincipals(ctx context.Context) ([]string, error) {
	return s.delegate.ListPrincipals(ctx)
}

func (s *Store) RecordMetric(ctx context.Context, m *memory.LearningMetric) error {
	return s.delegate.RecordMetric(ctx, m)
}

func (s *Store) ListMetrics(ctx context.Context, principalID string, metricType memory.MetricType, since time.Time) ([]*memory.LearningMetric, error) {
	return s.delegate.ListMetrics(ctx, principalID, metricType, since)
}

func (s *Store) Close() error {
	s.client.Close()
	return s.delegate.Close()
}
