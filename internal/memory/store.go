package memory

import (
	"context"
	"time"
)

// VectorHit is one candidate returned by a k-nearest-neighbours query,
// carrying the raw cosine similarity before any ranking multipliers.
type VectorHit struct {
	Memory         *Memory
	BaseSimilarity float64
}

// Store is the contract the engine consumes (§6): typed collections
// supporting insert, point lookup/update/delete with cascades, filtered
// scan, and KNN search over memory embeddings for a fixed principal.
// Implementations must serialize per-record mutations (UpdateMemory,
// UpdateWeights) so concurrent callers never lose an update, and must
// implement IncrementUsage as a true atomic increment (or a CAS-retry loop)
// rather than read-then-write under no lock.
type Store interface {
	CreateMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, principalID, id string) (*Memory, error)
	// UpdateMemory loads the current record, applies mutate, and persists
	// the result atomically with respect to other UpdateMemory/IncrementUsage
	// calls on the same id.
	UpdateMemory(ctx context.Context, principalID, id string, mutate func(*Memory) error) (*Memory, error)
	DeleteMemory(ctx context.Context, principalID, id string) error
	ListMemories(ctx context.Context, principalID string, limit, offset int) ([]*Memory, error)
	SearchByVector(ctx context.Context, principalID string, vector []float32, k int) ([]VectorHit, error)
	// IncrementUsage atomically increments usage_count, sets last_accessed to
	// now, and (if contextLabel != "") increments access_pattern.contexts[label].
	IncrementUsage(ctx context.Context, principalID, id string, contextLabel string, now time.Time) error
	// AppendAccessEvent records one raw access observation for C6's pattern
	// mining. It is independent of IncrementUsage's aggregate counters and
	// never fails the caller's request path in practice (callers invoke it
	// fire-and-forget, same as IncrementUsage).
	AppendAccessEvent(ctx context.Context, ev *AccessEvent) error
	// ListAccessEvents returns a principal's access log since the given time,
	// oldest first.
	ListAccessEvents(ctx context.Context, principalID string, since time.Time) ([]*AccessEvent, error)

	CreateRelationship(ctx context.Context, r *Relationship) error
	RelationshipExists(ctx context.Context, principalID, from, to string) (bool, error)
	ListRelationshipsFrom(ctx context.Context, principalID, fromID string) ([]*Relationship, error)
	ListRelationshipsForPrincipal(ctx context.Context, principalID string) ([]*Relationship, error)
	DeleteRelationshipsForMemory(ctx context.Context, principalID, memoryID string) error

	// UpsertPattern performs the idempotent merge rule of §4.6: if a pattern
	// with the same identity key exists, bump occurrences/confidence/last_seen;
	// otherwise insert with occurrences=1, confidence=0.5.
	UpsertPattern(ctx context.Context, p *TemporalPattern) (*TemporalPattern, error)
	ListPatterns(ctx context.Context, principalID string) ([]*TemporalPattern, error)

	GetOrCreateWeights(ctx context.Context, principalID string) (*LearningWeights, error)
	UpdateWeights(ctx context.Context, principalID string, mutate func(*LearningWeights) error) (*LearningWeights, error)

	GetCacheEntry(ctx context.Context, principalID, cacheKey string) (*PredictionCacheEntry, bool, error)
	PutCacheEntry(ctx context.Context, e *PredictionCacheEntry) error
	EvictCacheForMemory(ctx context.Context, principalID, memoryID string) error

	// ListPrincipals enumerates every principal with at least one memory, for
	// the scheduler to drive a learning cycle over.
	ListPrincipals(ctx context.Context) ([]string, error)

	RecordMetric(ctx context.Context, m *LearningMetric) error
	ListMetrics(ctx context.Context, principalID string, metricType MetricType, since time.Time) ([]*LearningMetric, error)

	Close() error
}
