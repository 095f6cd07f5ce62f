package memory

import (
	"context"
	"sort"
	"time"

	"adaptivememory/internal/bag"
)

// PatternMiner is C6: scans a principal's access history and produces
// hourly/daily/sequence/co-access candidate patterns, merged idempotently
// into the store via UpsertPattern.
type PatternMiner struct {
	store          Store
	sequenceWindow time.Duration
	clock          func() time.Time
}

func NewPatternMiner(store Store, sequenceWindow time.Duration) *PatternMiner {
	return &PatternMiner{store: store, sequenceWindow: sequenceWindow, clock: time.Now}
}

// Mine scans the access log since the given horizon and upserts every
// candidate pattern it finds, returning the merged records.
func (pm *PatternMiner) Mine(ctx context.Context, principalID string, since time.Time) ([]*TemporalPattern, error) {
	events, err := pm.store.ListAccessEvents(ctx, principalID, since)
	if err != nil {
		return nil, err
	}
	now := pm.clock()

	candidates := make([]*TemporalPattern, 0)
	candidates = append(candidates, hourlyCandidates(principalID, events, now)...)
	candidates = append(candidates, dailyCandidates(principalID, events, now)...)
	candidates = append(candidates, sequenceCandidates(principalID, events, pm.sequenceWindow, now)...)
	candidates = append(candidates, coAccessCandidates(principalID, events, now)...)

	merged := make([]*TemporalPattern, 0, len(candidates))
	for _, c := range candidates {
		m, err := pm.store.UpsertPattern(ctx, c)
		if err != nil {
			return nil, err
		}
		merged = append(merged, m)
	}
	return merged, nil
}

const minDistinctMemoriesForTemporalPattern = 3
const minCoAccessCount = 5
const minSequenceObservations = 2

func hourlyCandidates(principalID string, events []*AccessEvent, now time.Time) []*TemporalPattern {
	byHour := make(map[int]map[string]struct{})
	for _, ev := range events {
		h := ev.AccessedAt.Hour()
		if byHour[h] == nil {
			byHour[h] = make(map[string]struct{})
		}
		byHour[h][ev.MemoryID] = struct{}{}
	}
	var out []*TemporalPattern
	for h, ids := range byHour {
		if len(ids) < minDistinctMemoriesForTemporalPattern {
			continue
		}
		out = append(out, &TemporalPattern{
			PrincipalID: principalID,
			Type:        PatternHourly,
			Data:        bag.Bag{"hour": h, "memories": sortedIDs(ids)},
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return out
}

func dailyCandidates(principalID string, events []*AccessEvent, now time.Time) []*TemporalPattern {
	byDay := make(map[int]map[string]struct{})
	for _, ev := range events {
		d := int(ev.AccessedAt.Weekday())
		if byDay[d] == nil {
			byDay[d] = make(map[string]struct{})
		}
		byDay[d][ev.MemoryID] = struct{}{}
	}
	var out []*TemporalPattern
	for d, ids := range byDay {
		if len(ids) < minDistinctMemoriesForTemporalPattern {
			continue
		}
		out = append(out, &TemporalPattern{
			PrincipalID: principalID,
			Type:        PatternDaily,
			Data:        bag.Bag{"day_of_week": d, "memories": sortedIDs(ids)},
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return out
}

// sequenceCandidates finds ordered triples (A,B,C) where B follows A and C
// follows B within the configured window, each observed at least twice.
func sequenceCandidates(principalID string, events []*AccessEvent, window time.Duration, now time.Time) []*TemporalPattern {
	sorted := append([]*AccessEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccessedAt.Before(sorted[j].AccessedAt) })

	counts := make(map[[3]string]int)
	for i := 0; i < len(sorted); i++ {
		a := sorted[i]
		for j := i + 1; j < len(sorted) && sorted[j].AccessedAt.Sub(a.AccessedAt) <= window; j++ {
			b := sorted[j]
			if b.MemoryID == a.MemoryID {
				continue
			}
			for k := j + 1; k < len(sorted) && sorted[k].AccessedAt.Sub(b.AccessedAt) <= window; k++ {
				c := sorted[k]
				if c.MemoryID == a.MemoryID || c.MemoryID == b.MemoryID {
					continue
				}
				counts[[3]string{a.MemoryID, b.MemoryID, c.MemoryID}]++
			}
		}
	}

	var out []*TemporalPattern
	for triple, n := range counts {
		if n < minSequenceObservations {
			continue
		}
		out = append(out, &TemporalPattern{
			PrincipalID: principalID,
			Type:        PatternSequence,
			Data:        bag.Bag{"sequence": []string{triple[0], triple[1], triple[2]}},
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return out
}

// coAccessCandidates finds pairs jointly accessed (within the same calendar
// day) at least minCoAccessCount times, canonically ordered by ascending id.
func coAccessCandidates(principalID string, events []*AccessEvent, now time.Time) []*TemporalPattern {
	byDay := make(map[string][]string)
	for _, ev := range events {
		key := ev.AccessedAt.Format("2006-01-02")
		byDay[key] = append(byDay[key], ev.MemoryID)
	}

	counts := make(map[[2]string]int)
	for _, ids := range byDay {
		seen := make(map[string]struct{}, len(ids))
		unique := ids[:0:0]
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				a, b := unique[i], unique[j]
				if b < a {
					a, b = b, a
				}
				counts[[2]string{a, b}]++
			}
		}
	}

	var out []*TemporalPattern
	for pair, n := range counts {
		if n < minCoAccessCount {
			continue
		}
		// count is deliberately excluded from Data: it is the evidence that
		// crossed minCoAccessCount this scan, not part of the pattern's
		// identity, which must stay stable across scans for the idempotent
		// merge rule to ever find and bump the same row.
		out = append(out, &TemporalPattern{
			PrincipalID: principalID,
			Type:        PatternCoAccess,
			Data:        bag.Bag{"from": pair[0], "to": pair[1]},
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return out
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
