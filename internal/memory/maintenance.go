package memory

import (
	"context"
	"regexp"
	"strings"
	"time"
)

const (
	duplicateJaccardThreshold = 0.85
	outdatedHelpfulnessMax    = 0.30
	outdatedMinDaysSinceAccess = 90
	archiveMinAgeDays         = 180

	maintenancePageSize = 500
)

// MaintenanceReport is C8's four disjoint buckets, in priority order.
type MaintenanceReport struct {
	Duplicates        []DuplicatePair
	Outdated          []*Memory
	ArchiveCandidates []*Memory
	BrokenReferences  int
}

// DuplicatePair is two memories whose tokenized text overlaps heavily.
type DuplicatePair struct {
	A, B     *Memory
	Jaccard  float64
}

// MaintenanceAnalyzer is C8: surfaces duplicates, stale candidates, and
// broken references. A memory appears in at most one bucket; priority order
// is duplicates, then outdated, then archive candidates.
type MaintenanceAnalyzer struct {
	store Store
	clock func() time.Time
}

func NewMaintenanceAnalyzer(store Store) *MaintenanceAnalyzer {
	return &MaintenanceAnalyzer{store: store, clock: time.Now}
}

func (a *MaintenanceAnalyzer) Analyze(ctx context.Context, principalID string) (*MaintenanceReport, error) {
	memories, err := a.allMemories(ctx, principalID)
	if err != nil {
		return nil, err
	}
	now := a.clock()
	claimed := make(map[string]struct{}, len(memories))

	report := &MaintenanceReport{}

	tokens := make(map[string]map[string]struct{}, len(memories))
	for _, m := range memories {
		tokens[m.ID] = tokenize(m.Text)
	}
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			a1, b1 := memories[i], memories[j]
			if _, ok := claimed[a1.ID]; ok {
				continue
			}
			if _, ok := claimed[b1.ID]; ok {
				continue
			}
			sim := jaccard(tokens[a1.ID], tokens[b1.ID])
			if sim >= duplicateJaccardThreshold {
				report.Duplicates = append(report.Duplicates, DuplicatePair{A: a1, B: b1, Jaccard: sim})
				claimed[a1.ID] = struct{}{}
				claimed[b1.ID] = struct{}{}
			}
		}
	}

	for _, m := range memories {
		if _, ok := claimed[m.ID]; ok {
			continue
		}
		days := daysSinceAccess(m.LastAccessed, now)
		if m.HelpfulnessScore < outdatedHelpfulnessMax && days != nil && *days >= outdatedMinDaysSinceAccess {
			report.Outdated = append(report.Outdated, m)
			claimed[m.ID] = struct{}{}
		}
	}

	for _, m := range memories {
		if _, ok := claimed[m.ID]; ok {
			continue
		}
		ageDays := int(now.Sub(m.CreatedAt).Hours() / 24)
		if m.UsageCount == 0 && ageDays >= archiveMinAgeDays {
			report.ArchiveCandidates = append(report.ArchiveCandidates, m)
			claimed[m.ID] = struct{}{}
		}
	}

	existing := make(map[string]struct{}, len(memories))
	for _, m := range memories {
		existing[m.ID] = struct{}{}
	}
	rels, err := a.store.ListRelationshipsForPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		_, fromOK := existing[r.From]
		_, toOK := existing[r.To]
		if !fromOK || !toOK {
			report.BrokenReferences++
		}
	}

	return report, nil
}

func (a *MaintenanceAnalyzer) allMemories(ctx context.Context, principalID string) ([]*Memory, error) {
	var all []*Memory
	offset := 0
	for {
		page, err := a.store.ListMemories(ctx, principalID, maintenancePageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < maintenancePageSize {
			break
		}
		offset += maintenancePageSize
	}
	return all, nil
}

var tokenPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) map[string]struct{} {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
