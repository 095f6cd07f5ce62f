package memory

import (
	"context"
	"sort"
	"time"
)

const (
	autoApplyConfidenceThreshold = 0.75
	orderingConsistencyThreshold = 0.80
)

// RelationshipSuggestion is one candidate edge C9 proposes from a co-access
// pattern, before it is (optionally) applied.
type RelationshipSuggestion struct {
	From       string
	To         string
	Type       RelationshipType
	Confidence float64
}

// RelationshipSuggester is C9: proposes typed edges between memories from
// co-access patterns plus tag overlap.
type RelationshipSuggester struct {
	store Store
	clock func() time.Time
}

func NewRelationshipSuggester(store Store) *RelationshipSuggester {
	return &RelationshipSuggester{store: store, clock: time.Now}
}

// Suggest computes §4.9's suggestions for every co-access pattern with
// occurrences >= 5 (C6 never persists fewer). If autoApply is set,
// suggestions at confidence >= 0.75 are applied idempotently against the
// unique (from,to) constraint.
func (s *RelationshipSuggester) Suggest(ctx context.Context, principalID string, autoApply bool) ([]RelationshipSuggestion, error) {
	patterns, err := s.store.ListPatterns(ctx, principalID)
	if err != nil {
		return nil, err
	}

	var suggestions []RelationshipSuggestion
	for _, pat := range patterns {
		if pat.Type != PatternCoAccess {
			continue
		}
		from, _ := pat.Data["from"].(string)
		to, _ := pat.Data["to"].(string)
		if from == "" || to == "" {
			continue
		}

		commonTags, err := s.commonTagCount(ctx, principalID, from, to)
		if err != nil {
			return nil, err
		}
		confidence := 0.5 + 0.03*float64(commonTags) + 0.02*minF(20, float64(pat.Occurrences-5))
		confidence = clamp01(confidence)

		relType, err := s.suggestedType(ctx, principalID, from, to)
		if err != nil {
			return nil, err
		}

		suggestions = append(suggestions, RelationshipSuggestion{From: from, To: to, Type: relType, Confidence: confidence})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].From < suggestions[j].From
	})

	if autoApply {
		for _, sug := range suggestions {
			if sug.Confidence < autoApplyConfidenceThreshold {
				continue
			}
			exists, err := s.store.RelationshipExists(ctx, principalID, sug.From, sug.To)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
			if err := s.store.CreateRelationship(ctx, &Relationship{
				PrincipalID: principalID,
				From:        sug.From,
				To:          sug.To,
				Type:        sug.Type,
				Strength:    sug.Confidence,
				CreatedAt:   s.clock(),
			}); err != nil {
				return nil, err
			}
		}
	}

	return suggestions, nil
}

func (s *RelationshipSuggester) commonTagCount(ctx context.Context, principalID, from, to string) (int, error) {
	a, err := s.store.GetMemory(ctx, principalID, from)
	if err != nil {
		return 0, err
	}
	b, err := s.store.GetMemory(ctx, principalID, to)
	if err != nil {
		return 0, err
	}
	set := make(map[string]struct{}, len(a.Tags))
	for _, t := range a.Tags {
		set[t] = struct{}{}
	}
	count := 0
	for _, t := range b.Tags {
		if _, ok := set[t]; ok {
			count++
		}
	}
	return count, nil
}

// suggestedType inspects access-event ordering between the pair: if at least
// 80% of paired observations see `from` accessed before `to`, the edge type
// is `follows`; otherwise the default `related_to`.
func (s *RelationshipSuggester) suggestedType(ctx context.Context, principalID, from, to string) (RelationshipType, error) {
	events, err := s.store.ListAccessEvents(ctx, principalID, time.Time{})
	if err != nil {
		return RelatedTo, err
	}
	relevant := make([]*AccessEvent, 0)
	for _, ev := range events {
		if ev.MemoryID == from || ev.MemoryID == to {
			relevant = append(relevant, ev)
		}
	}
	sort.Slice(relevant, func(i, j int) bool { return relevant[i].AccessedAt.Before(relevant[j].AccessedAt) })

	var fromFirst, total int
	var lastFrom bool
	var haveLast bool
	for _, ev := range relevant {
		isFrom := ev.MemoryID == from
		if haveLast && isFrom != lastFrom {
			total++
			if lastFrom {
				fromFirst++
			}
			// The pair is complete; the next event starts a new observation.
			haveLast = false
			continue
		}
		lastFrom = isFrom
		haveLast = true
	}
	if total == 0 {
		return RelatedTo, nil
	}
	if float64(fromFirst)/float64(total) >= orderingConsistencyThreshold {
		return Follows, nil
	}
	return RelatedTo, nil
}
