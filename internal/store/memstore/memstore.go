// Package memstore is the in-memory reference implementation of
// memory.Store, grounded on the teacher's in-process cosine-similarity
// vector index. It is suitable for tests and single-process deployments;
// internal/store/postgres and internal/store/qdrant back the same contract
// with durable storage.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"adaptivememory/internal/apperr"
	"adaptivememory/internal/memory"
)

// memoryRecord owns the one lock that guards mutation of a single memory: a
// counter increment or update on record A never contends with a lookup of
// record B in the same bucket, which only ever needs the bucket's read lock
// to find the pointer.
type memoryRecord struct {
	mu sync.Mutex
	m  *memory.Memory
}

type principalBucket struct {
	mu            sync.RWMutex
	memories      map[string]*memoryRecord
	relationships map[string]*memory.Relationship // keyed by id
	patterns      map[string]*memory.TemporalPattern // keyed by IdentityKey()
	weights       *memory.LearningWeights
	cache         map[string]*memory.PredictionCacheEntry
	metrics       []*memory.LearningMetric
	events        []*memory.AccessEvent
}

func newBucket(principalID string) *principalBucket {
	return &principalBucket{
		memories:      make(map[string]*memoryRecord),
		relationships: make(map[string]*memory.Relationship),
		patterns:      make(map[string]*memory.TemporalPattern),
		cache:         make(map[string]*memory.PredictionCacheEntry),
	}
}

// Store is the in-memory memory.Store implementation. Each principal's data
// lives in its own bucket with its own lock, so operations for different
// principals never contend.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*principalBucket
	clock   func() time.Time
}

func New() *Store {
	return &Store{buckets: make(map[string]*principalBucket), clock: time.Now}
}

func (s *Store) bucket(principalID string) *principalBucket {
	s.mu.RLock()
	b, ok := s.buckets[principalID]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[principalID]; ok {
		return b
	}
	b = newBucket(principalID)
	s.buckets[principalID] = b
	return b
}

func (s *Store) CreateMemory(ctx context.Context, m *memory.Memory) error {
	b := s.bucket(m.PrincipalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.ID == "" {
		m.ID = memory.NewID("mem")
	}
	if _, exists := b.memories[m.ID]; exists {
		return apperr.Conflict("memory already exists: " + m.ID)
	}
	b.memories[m.ID] = &memoryRecord{m: m.Clone()}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, principalID, id string) (*memory.Memory, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	rec, ok := b.memories[id]
	b.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("memory not found: " + id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.m.Clone(), nil
}

func (s *Store) UpdateMemory(ctx context.Context, principalID, id string, mutate func(*memory.Memory) error) (*memory.Memory, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	rec, ok := b.memories[id]
	b.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("memory not found: " + id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := mutate(rec.m); err != nil {
		return nil, err
	}
	return rec.m.Clone(), nil
}

func (s *Store) DeleteMemory(ctx context.Context, principalID, id string) error {
	b := s.bucket(principalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.memories[id]; !ok {
		return apperr.NotFound("memory not found: " + id)
	}
	delete(b.memories, id)
	for relID, r := range b.relationships {
		if r.From == id || r.To == id {
			delete(b.relationships, relID)
		}
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, principalID string, limit, offset int) ([]*memory.Memory, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.memories))
	for id := range b.memories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	out := make([]*memory.Memory, 0, end-offset)
	for _, id := range ids[offset:end] {
		rec := b.memories[id]
		rec.mu.Lock()
		out = append(out, rec.m.Clone())
		rec.mu.Unlock()
	}
	return out, nil
}

func (s *Store) SearchByVector(ctx context.Context, principalID string, vector []float32, k int) ([]memory.VectorHit, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := vectorNorm(vector)
	hits := make([]memory.VectorHit, 0, len(b.memories))
	for _, rec := range b.memories {
		rec.mu.Lock()
		m := rec.m
		if len(m.Embedding) == 0 {
			rec.mu.Unlock()
			continue
		}
		hits = append(hits, memory.VectorHit{Memory: m.Clone(), BaseSimilarity: cosine(vector, m.Embedding, qnorm)})
		rec.mu.Unlock()
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].BaseSimilarity != hits[j].BaseSimilarity {
			return hits[i].BaseSimilarity > hits[j].BaseSimilarity
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// IncrementUsage takes only the bucket's read lock to find the record, then
// the record's own lock to mutate it — a concurrent GetMemory/IncrementUsage
// on a different memory in the same bucket never waits on this one (§4.1,
// §5's "no coarse locks").
func (s *Store) IncrementUsage(ctx context.Context, principalID, id string, contextLabel string, now time.Time) error {
	b := s.bucket(principalID)
	b.mu.RLock()
	rec, ok := b.memories[id]
	b.mu.RUnlock()
	if !ok {
		return apperr.NotFound("memory not found: " + id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.m.UsageCount++
	rec.m.LastAccessed = &now
	if contextLabel != "" {
		updated, err := rec.m.AccessPattern.IncrementContext(contextLabel)
		if err != nil {
			return err
		}
		rec.m.AccessPattern = updated
	}
	return nil
}

func (s *Store) AppendAccessEvent(ctx context.Context, ev *memory.AccessEvent) error {
	b := s.bucket(ev.PrincipalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (s *Store) ListAccessEvents(ctx context.Context, principalID string, since time.Time) ([]*memory.AccessEvent, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*memory.AccessEvent, 0, len(b.events))
	for _, ev := range b.events {
		if ev.AccessedAt.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) CreateRelationship(ctx context.Context, r *memory.Relationship) error {
	b := s.bucket(r.PrincipalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.relationships {
		if existing.From == r.From && existing.To == r.To {
			return apperr.Conflict("relationship already exists")
		}
	}
	if _, ok := b.memories[r.From]; !ok {
		return apperr.InvalidInput("from memory does not exist: " + r.From)
	}
	if _, ok := b.memories[r.To]; !ok {
		return apperr.InvalidInput("to memory does not exist: " + r.To)
	}
	if r.ID == "" {
		r.ID = memory.NewID("rel")
	}
	cp := *r
	b.relationships[r.ID] = &cp
	return nil
}

func (s *Store) RelationshipExists(ctx context.Context, principalID, from, to string) (bool, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.relationships {
		if r.From == from && r.To == to {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListRelationshipsFrom(ctx context.Context, principalID, fromID string) ([]*memory.Relationship, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*memory.Relationship
	for _, r := range b.relationships {
		if r.From == fromID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListRelationshipsForPrincipal(ctx context.Context, principalID string) ([]*memory.Relationship, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*memory.Relationship, 0, len(b.relationships))
	for _, r := range b.relationships {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) DeleteRelationshipsForMemory(ctx context.Context, principalID, memoryID string) error {
	b := s.bucket(principalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, r := range b.relationships {
		if r.From == memoryID || r.To == memoryID {
			delete(b.relationships, id)
		}
	}
	return nil
}

func (s *Store) UpsertPattern(ctx context.Context, p *memory.TemporalPattern) (*memory.TemporalPattern, error) {
	b := s.bucket(p.PrincipalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	key := p.IdentityKey()
	now := s.clock()
	if existing, ok := b.patterns[key]; ok {
		existing.Occurrences++
		existing.LastSeen = now
		existing.Confidence = minF1(1.0, existing.Confidence+0.05)
		cp := *existing
		cp.Data = existing.Data.Clone()
		return &cp, nil
	}
	if p.ID == "" {
		p.ID = memory.NewID("pat")
	}
	p.Occurrences = 1
	p.Confidence = 0.5
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	p.LastSeen = now
	cp := *p
	cp.Data = p.Data.Clone()
	b.patterns[key] = &cp
	out := cp
	out.Data = cp.Data.Clone()
	return &out, nil
}

func (s *Store) ListPatterns(ctx context.Context, principalID string) ([]*memory.TemporalPattern, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*memory.TemporalPattern, 0, len(b.patterns))
	for _, p := range b.patterns {
		cp := *p
		cp.Data = p.Data.Clone()
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetOrCreateWeights(ctx context.Context, principalID string) (*memory.LearningWeights, error) {
	b := s.bucket(principalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.weights == nil {
		b.weights = memory.DefaultWeights(principalID)
	}
	cp := *b.weights
	return &cp, nil
}

func (s *Store) UpdateWeights(ctx context.Context, principalID string, mutate func(*memory.LearningWeights) error) (*memory.LearningWeights, error) {
	b := s.bucket(principalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.weights == nil {
		b.weights = memory.DefaultWeights(principalID)
	}
	if err := mutate(b.weights); err != nil {
		return nil, err
	}
	cp := *b.weights
	return &cp, nil
}

func (s *Store) GetCacheEntry(ctx context.Context, principalID, cacheKey string) (*memory.PredictionCacheEntry, bool, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.cache[cacheKey]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	cp.Predictions = append([]memory.Prediction(nil), e.Predictions...)
	return &cp, true, nil
}

func (s *Store) PutCacheEntry(ctx context.Context, e *memory.PredictionCacheEntry) error {
	b := s.bucket(e.PrincipalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *e
	cp.Predictions = append([]memory.Prediction(nil), e.Predictions...)
	b.cache[e.CacheKey] = &cp
	return nil
}

func (s *Store) EvictCacheForMemory(ctx context.Context, principalID, memoryID string) error {
	b := s.bucket(principalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.cache {
		for _, p := range e.Predictions {
			if p.MemoryID == memoryID {
				delete(b.cache, key)
				break
			}
		}
	}
	return nil
}

func (s *Store) RecordMetric(ctx context.Context, m *memory.LearningMetric) error {
	b := s.bucket(m.PrincipalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *m
	b.metrics = append(b.metrics, &cp)
	return nil
}

func (s *Store) ListMetrics(ctx context.Context, principalID string, metricType memory.MetricType, since time.Time) ([]*memory.LearningMetric, error) {
	b := s.bucket(principalID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*memory.LearningMetric
	for _, m := range b.metrics {
		if m.Type != metricType {
			continue
		}
		if m.RecordedAt.Before(since) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListPrincipals(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buckets))
	for id, b := range s.buckets {
		b.mu.RLock()
		has := len(b.memories) > 0
		b.mu.RUnlock()
		if has {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func vectorNorm(a []float32) float64 {
	var sum float64
	for _, x := range a {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = vectorNorm(a)
	}
	bnorm := vectorNorm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}

func minF1(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
