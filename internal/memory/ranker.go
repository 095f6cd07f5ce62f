package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"adaptivememory/internal/dispatch"
	"adaptivememory/internal/embedding"
)

// SearchOptions carries the options named in the consumed contract. Tag and
// ProjectID filters are applied before scoring; zero values mean "no filter".
type SearchOptions struct {
	WeightByUsage      bool
	DecayOldMemories   bool
	MinHelpfulnessScore *float64
	AdaptiveWeights    bool
	LearningMode       bool
	Tags               []string
	ProjectID          string
}

// SearchResult is one ranked candidate, annotated with the raw similarity,
// the fused score, and which multipliers applied.
type SearchResult struct {
	Memory         *Memory
	BaseSimilarity float64
	Score          float64
	UsageBoosted   bool
	Decayed        bool
	DecayBoost     bool
}

// Ranker is C4: search(principal, query_text, k, options). It never touches
// the helpfulness score; that is C3's exclusive concern.
type Ranker struct {
	store    Store
	embedder embedding.Provider
	tracker  *UsageTracker
	dispatch *dispatch.Pool
	clock    func() time.Time
}

// NewRanker wires the store, the embedding provider, the usage tracker (for
// learning_mode fire-and-forget record_access), and the dispatch pool that
// runs it off the request path.
func NewRanker(store Store, embedder embedding.Provider, tracker *UsageTracker, pool *dispatch.Pool) *Ranker {
	return &Ranker{store: store, embedder: embedder, tracker: tracker, dispatch: pool, clock: time.Now}
}

// Search implements §4.4's algorithm exactly, including the documented edge
// policies: an empty candidate pool returns an empty slice, never an error;
// k is clamped to [1,100]; candidates without an embedding never reach here
// because SearchByVector only considers embedded memories.
func (r *Ranker) Search(ctx context.Context, principalID, queryText string, k int, opts SearchOptions) ([]SearchResult, error) {
	k = clampK(k)

	vec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	poolSize := 3 * k
	if poolSize > 100 {
		poolSize = 100
	}
	hits, err := r.store.SearchByVector(ctx, principalID, vec, poolSize)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	if opts.MinHelpfulnessScore != nil {
		filtered := hits[:0]
		for _, h := range hits {
			if h.Memory.HelpfulnessScore >= *opts.MinHelpfulnessScore {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}
	if opts.ProjectID != "" || len(opts.Tags) > 0 {
		filtered := hits[:0]
		for _, h := range hits {
			if opts.ProjectID != "" && h.Memory.ProjectID != opts.ProjectID {
				continue
			}
			if len(opts.Tags) > 0 && !hasAnyTag(h.Memory.Tags, opts.Tags) {
				continue
			}
			filtered = append(filtered, h)
		}
		hits = filtered
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	w := DefaultWeights(principalID)
	if opts.AdaptiveWeights {
		loaded, err := r.store.GetOrCreateWeights(ctx, principalID)
		if err != nil {
			return nil, err
		}
		w = loaded
	}

	now := r.clock()
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		res := SearchResult{Memory: h.Memory, BaseSimilarity: h.BaseSimilarity}

		usageMultiplier := 1.0
		if opts.WeightByUsage {
			usageBoost := 1 + math.Log(1+float64(h.Memory.UsageCount))
			usageMultiplier = 1 + w.UsageWeight*(usageBoost-1)
			res.UsageBoosted = usageBoost > 1
		}
		helpfulnessMultiplier := w.HelpfulnessWeight*h.Memory.HelpfulnessScore + (1 - w.HelpfulnessWeight)
		score := h.BaseSimilarity * usageMultiplier * helpfulnessMultiplier

		if opts.DecayOldMemories {
			days := daysSinceAccess(h.Memory.LastAccessed, now)
			switch {
			case days != nil && *days <= 7:
				score *= 1.20
				res.Decayed = true
				res.DecayBoost = true
			case days != nil && *days >= 90:
				score *= 0.70
				res.Decayed = true
			}
		}

		res.Score = score
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.BaseSimilarity != b.BaseSimilarity {
			return a.BaseSimilarity > b.BaseSimilarity
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})

	if len(results) > k {
		results = results[:k]
	}

	if _, err := r.store.UpdateWeights(ctx, principalID, func(w *LearningWeights) error {
		w.TotalSearches++
		return nil
	}); err != nil {
		return nil, err
	}

	if opts.LearningMode && r.dispatch != nil && r.tracker != nil {
		for _, res := range results {
			id := res.Memory.ID
			r.dispatch.Submit(func(taskCtx context.Context) {
				r.tracker.RecordAccessFireAndForget(taskCtx, principalID, id, "search")
			})
		}
	}

	return results, nil
}

func clampK(k int) int {
	if k < 1 {
		return 1
	}
	if k > 100 {
		return 100
	}
	return k
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
