// Package memory implements the adaptive retrieval engine's core domain:
// the Memory record and its learning state, and the components (C1-C9) that
// derive, mutate, and mine that state.
package memory

import (
	"time"

	"adaptivememory/internal/bag"
)

// AccessFrequency is the C1 projection bucket for usage_count.
type AccessFrequency string

const (
	FrequencyUnused   AccessFrequency = "unused"
	FrequencyLow      AccessFrequency = "low"
	FrequencyMedium   AccessFrequency = "medium"
	FrequencyHigh     AccessFrequency = "high"
	FrequencyVeryHigh AccessFrequency = "very_high"
)

// RelationshipType enumerates the directed-edge kinds between two memories.
type RelationshipType string

const (
	RelatedTo        RelationshipType = "related_to"
	CausedBy         RelationshipType = "caused_by"
	SimilarTo        RelationshipType = "similar_to"
	Follows          RelationshipType = "follows"
	Contradicts      RelationshipType = "contradicts"
	SynthesizedFrom  RelationshipType = "synthesized_from"
)

// PatternType enumerates the kinds of temporal pattern C6 mines.
type PatternType string

const (
	PatternHourly   PatternType = "hourly"
	PatternDaily    PatternType = "daily"
	PatternWeekly   PatternType = "weekly"
	PatternSequence PatternType = "sequence"
	PatternCoAccess PatternType = "co_access"
)

// MetricType enumerates the LearningMetric time series.
type MetricType string

const (
	MetricSearchAccuracy     MetricType = "search_accuracy"
	MetricPredictionAccuracy MetricType = "prediction_accuracy"
	MetricAvgHelpfulness     MetricType = "avg_helpfulness"
	MetricUserSatisfaction   MetricType = "user_satisfaction"
	MetricRelationshipQuality MetricType = "relationship_quality"
)

// Memory is owned by exactly one principal. Counter/score fields are
// mutated only by C2/C3; text and embedding never change after create
// except through an explicit update_memory patch.
type Memory struct {
	ID               string
	PrincipalID      string
	Text             string
	Tags             []string
	Metadata         bag.Bag
	Source           string
	ProjectID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	UsageCount       int
	LastAccessed     *time.Time
	HelpfulnessScore float64
	AccessPattern    bag.Bag
	Embedding        []float32
}

// Clone returns a deep-enough copy for safe handoff across goroutine/package
// boundaries (store implementations return clones, never internal pointers).
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Metadata = m.Metadata.Clone()
	cp.AccessPattern = m.AccessPattern.Clone()
	cp.Embedding = append([]float32(nil), m.Embedding...)
	if m.LastAccessed != nil {
		t := *m.LastAccessed
		cp.LastAccessed = &t
	}
	return &cp
}

// Relationship is a directed edge between two distinct memories of the same
// principal; (from,to) is unique.
type Relationship struct {
	ID          string
	PrincipalID string
	From        string
	To          string
	Type        RelationshipType
	Strength    float64
	Explanation string
	CreatedAt   time.Time
}

// TemporalPattern is identified by (principal_id, pattern_type,
// canonicalized(pattern_data)).
type TemporalPattern struct {
	ID          string
	PrincipalID string
	Type        PatternType
	Data        bag.Bag
	Confidence  float64
	Occurrences int
	FirstSeen   time.Time
	LastSeen    time.Time
}

// IdentityKey returns the canonical (principal_id, pattern_type,
// canonicalized pattern_data) key C6's idempotent merge looks patterns up by.
func (p *TemporalPattern) IdentityKey() string {
	return p.PrincipalID + "|" + string(p.Type) + "|" + canonicalize(p.Data)
}

// LearningWeights holds one record per principal; created lazily with
// defaults (0.3, 0.2, 0.5, 0.2) on first access.
type LearningWeights struct {
	PrincipalID           string
	UsageWeight           float64
	RecencyWeight         float64
	HelpfulnessWeight     float64
	RelationshipWeight    float64
	TotalSearches         int
	PositiveFeedbackCount int
	NegativeFeedbackCount int
	AvgSearchSatisfaction float64
	LastWeightUpdate      time.Time
}

// DefaultWeights returns the documented defaults used when adaptive_weights
// is false, and as the lazily-created initial record.
func DefaultWeights(principalID string) *LearningWeights {
	return &LearningWeights{
		PrincipalID:           principalID,
		UsageWeight:           0.3,
		RecencyWeight:         0.2,
		HelpfulnessWeight:     0.5,
		RelationshipWeight:    0.2,
		AvgSearchSatisfaction: 0.5,
	}
}

// PredictionCacheEntry is keyed by (principal_id, cache_key), where cache_key
// is a content-addressed hash per the design note.
type PredictionCacheEntry struct {
	PrincipalID string
	CacheKey    string
	Predictions []Prediction
	ContextHash string
	ExpiresAt   time.Time
	HitCount    int
}

// Prediction is one ranked candidate returned by C7.
type Prediction struct {
	MemoryID   string
	Confidence float64
	Reasons    []string
}

// AccessEvent is one raw record_access observation, retained long enough for
// C6 to mine hourly/daily/sequence/co-access patterns from. It is a thin
// append-only log alongside the aggregate counters UsageTracker maintains on
// the Memory record itself.
type AccessEvent struct {
	PrincipalID  string
	MemoryID     string
	ContextLabel string
	AccessedAt   time.Time
}

// LearningMetric is an append-only time-series point.
type LearningMetric struct {
	PrincipalID string
	Type        MetricType
	Value       float64
	RecordedAt  time.Time
	Context     string
}
