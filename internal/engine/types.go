package engine

import (
	"sort"

	"adaptivememory/internal/bag"
	"adaptivememory/internal/memory"
)

// MemoryPatch carries update_memory's optional field changes. A nil pointer
// (or nil Tags/Metadata) means "leave unchanged"; a non-nil Tags/Metadata
// still replaces the field wholesale, including with an empty value.
type MemoryPatch struct {
	Text      *string
	Tags      *[]string
	Metadata  *bag.Bag
	Source    *string
	ProjectID *string
}

// AnalysisReport is analyze's collapsed result: C9's suggestions, C6's mined
// patterns, and C8's stale count (the size of its Outdated bucket), per the
// decision to fold analyze/analyze-enhanced into one operation.
type AnalysisReport struct {
	Patterns    []*memory.TemporalPattern
	Suggestions []memory.RelationshipSuggestion
	StaleCount  int
}

// MetricSeries is one metric type's points over the requested window, plus a
// simple first-to-last trend.
type MetricSeries struct {
	Type   memory.MetricType
	Points []*memory.LearningMetric
	Trend  float64
}

// LearningMetricsReport is learning_metrics' result: one series per
// recognized metric type.
type LearningMetricsReport struct {
	Series map[memory.MetricType]MetricSeries
}

func dedupeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func trend(points []*memory.LearningMetric) float64 {
	if len(points) < 2 {
		return 0
	}
	sorted := append([]*memory.LearningMetric(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RecordedAt.Before(sorted[j].RecordedAt) })
	return sorted[len(sorted)-1].Value - sorted[0].Value
}
