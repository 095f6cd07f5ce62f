package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"adaptivememory/internal/bag"
	"adaptivememory/internal/embedding"
)

const (
	reasonFrequentCoAccess   = "frequently_accessed_with"
	reasonRelationship       = "related_to_relationship"
	reasonTemporalHourly     = "temporal_pattern_hourly"
	reasonTemporalDaily      = "temporal_pattern_daily"
	reasonTemporalSequence   = "temporal_pattern_sequence"
	reasonSemanticContext    = "semantic_context"

	defaultPredictionTTL = time.Hour
)

// Predictor is C7: predict(principal, context_text?, recent_ids[], k). A
// process-local expirable LRU fronts the per-principal persistent cache the
// Store holds, so repeat calls within the same process never round-trip.
type Predictor struct {
	store         Store
	embedder      embedding.Provider
	local         *lru.LRU[string, *PredictionCacheEntry]
	ttl           time.Duration
	minConfidence float64
	clock         func() time.Time
}

func NewPredictor(store Store, embedder embedding.Provider, ttl time.Duration, minConfidence float64) *Predictor {
	if ttl <= 0 {
		ttl = defaultPredictionTTL
	}
	return &Predictor{
		store:         store,
		embedder:      embedder,
		local:         lru.NewLRU[string, *PredictionCacheEntry](1024, nil, ttl),
		ttl:           ttl,
		minConfidence: minConfidence,
		clock:         time.Now,
	}
}

// CacheKey is a content-addressed hash over (principal, context_text, sorted
// recent_ids, k); it never crosses principal boundaries.
func CacheKey(principalID, contextText string, recentIDs []string, k int) string {
	sorted := append([]string(nil), recentIDs...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(principalID))
	h.Write([]byte{0})
	h.Write([]byte(contextText))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(k)))
	return hex.EncodeToString(h.Sum(nil))
}

// Predict implements §4.7's algorithm.
func (p *Predictor) Predict(ctx context.Context, principalID, contextText string, recentIDs []string, k int) ([]Prediction, error) {
	k = clampK(k)
	key := CacheKey(principalID, contextText, recentIDs, k)
	now := p.clock()

	if entry, ok := p.local.Get(key); ok && entry.ExpiresAt.After(now) {
		entry.HitCount++
		return entry.Predictions, nil
	}
	if entry, found, err := p.store.GetCacheEntry(ctx, principalID, key); err == nil && found && entry.ExpiresAt.After(now) {
		entry.HitCount++
		_ = p.store.PutCacheEntry(ctx, entry)
		p.local.Add(key, entry)
		return entry.Predictions, nil
	}

	predictions, err := p.compute(ctx, principalID, contextText, recentIDs, k, now)
	if err != nil {
		return nil, err
	}

	entry := &PredictionCacheEntry{
		PrincipalID: principalID,
		CacheKey:    key,
		Predictions: predictions,
		ContextHash: key,
		ExpiresAt:   now.Add(p.ttl),
		HitCount:    0,
	}
	p.local.Add(key, entry)
	if err := p.store.PutCacheEntry(ctx, entry); err != nil {
		return nil, err
	}
	return predictions, nil
}

type scored struct {
	id         string
	confidence float64
	reasons    []string
	seenReason map[string]struct{}
}

func (s *scored) add(contribution float64, reason string) {
	if s.seenReason == nil {
		s.seenReason = make(map[string]struct{})
	}
	s.confidence += contribution
	if _, ok := s.seenReason[reason]; !ok {
		s.seenReason[reason] = struct{}{}
		s.reasons = append(s.reasons, reason)
	}
}

func (p *Predictor) compute(ctx context.Context, principalID, contextText string, recentIDs []string, k int, now time.Time) ([]Prediction, error) {
	recentSet := make(map[string]struct{}, len(recentIDs))
	for _, id := range recentIDs {
		recentSet[id] = struct{}{}
	}

	candidates := make(map[string]*scored)
	get := func(id string) *scored {
		if _, isRecent := recentSet[id]; isRecent {
			return nil
		}
		c, ok := candidates[id]
		if !ok {
			c = &scored{id: id}
			candidates[id] = c
		}
		return c
	}

	patterns, err := p.store.ListPatterns(ctx, principalID)
	if err != nil {
		return nil, err
	}
	for _, pat := range patterns {
		switch pat.Type {
		case PatternCoAccess:
			from, _ := pat.Data["from"].(string)
			to, _ := pat.Data["to"].(string)
			var other string
			if _, ok := recentSet[from]; ok {
				other = to
			} else if _, ok := recentSet[to]; ok {
				other = from
			} else {
				continue
			}
			if c := get(other); c != nil {
				c.add(coAccessContribution(pat.Occurrences), reasonFrequentCoAccess)
			}
		case PatternHourly:
			hour, ok := bag.AsInt(pat.Data["hour"])
			if !ok || hour != now.Hour() {
				continue
			}
			for _, id := range patternMemberIDs(pat) {
				if c := get(id); c != nil {
					c.add(0.35, reasonTemporalHourly)
				}
			}
		case PatternDaily:
			day, ok := bag.AsInt(pat.Data["day_of_week"])
			if !ok || day != int(now.Weekday()) {
				continue
			}
			for _, id := range patternMemberIDs(pat) {
				if c := get(id); c != nil {
					c.add(0.35, reasonTemporalDaily)
				}
			}
		case PatternSequence:
			seq, _ := bag.AsStringSlice(pat.Data["sequence"])
			if len(seq) != 3 {
				continue
			}
			if _, ok := recentSet[seq[0]]; !ok {
				continue
			}
			if c := get(seq[1]); c != nil {
				c.add(0.30, reasonTemporalSequence)
			}
		}
	}

	for _, id := range recentIDs {
		rels, err := p.store.ListRelationshipsFrom(ctx, principalID, id)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if c := get(r.To); c != nil {
				c.add(r.Strength*0.5, reasonRelationship)
			}
		}
	}

	if strings.TrimSpace(contextText) != "" && p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, contextText)
		if err == nil {
			hits, err := p.store.SearchByVector(ctx, principalID, vec, k*3)
			if err == nil {
				for _, h := range hits {
					if c := get(h.Memory.ID); c != nil {
						sim := h.BaseSimilarity
						if sim < 0 {
							sim = 0
						}
						c.add(sim*0.5, reasonSemanticContext)
					}
				}
			}
		}
	}

	results := make([]Prediction, 0, len(candidates))
	for _, c := range candidates {
		conf := c.confidence
		if conf > 1.0 {
			conf = 1.0
		}
		if conf < p.minConfidence {
			continue
		}
		results = append(results, Prediction{MemoryID: c.id, Confidence: conf, Reasons: c.reasons})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].MemoryID < results[j].MemoryID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func coAccessContribution(occurrences int) float64 {
	v := float64(occurrences) / 30.0
	if v > 0.5 {
		return 0.5
	}
	return v
}

func patternMemberIDs(pat *TemporalPattern) []string {
	raw, _ := bag.AsStringSlice(pat.Data["memories"])
	return raw
}

// EvictForMemory drops both the persistent and local cache entries that
// reference a deleted or updated memory. Since cache keys are content
// addressed over recent_ids rather than over result contents, precise
// per-memory invalidation requires scanning; the persistent layer handles
// this in its own storage-appropriate way, and the local LRU is cleared
// wholesale to avoid serving stale predictions.
func (p *Predictor) EvictForMemory(ctx context.Context, principalID, memoryID string) error {
	p.local.Purge()
	return p.store.EvictCacheForMemory(ctx, principalID, memoryID)
}
