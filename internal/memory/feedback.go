package memory

import (
	"context"
	"time"
)

// emaAlpha is the exponential-moving-average smoothing factor used by both
// the helpfulness-score update and the avg_search_satisfaction update.
const emaAlpha = 0.3

// Feedback is the explicit signal apply_feedback accepts.
type Feedback struct {
	Helpful     bool
	Satisfaction *float64 // real in [0,1], optional
	Context     string
}

// FeedbackIntegrator is C3: apply_feedback(memory_id, helpful, satisfaction?, context?).
type FeedbackIntegrator struct {
	store   Store
	adapter *WeightAdapter
	clock   func() time.Time
}

func NewFeedbackIntegrator(store Store, adapter *WeightAdapter) *FeedbackIntegrator {
	return &FeedbackIntegrator{store: store, adapter: adapter, clock: time.Now}
}

// ApplyFeedback updates the memory's helpfulness_score under the documented
// rule, updates the principal's LearningWeights counters and
// avg_search_satisfaction EMA, and — every 10 searches — re-evaluates the
// weight vector (C5), all atomically with respect to other writers of the
// same records. Returns the new score.
func (f *FeedbackIntegrator) ApplyFeedback(ctx context.Context, principalID, memoryID string, fb Feedback) (float64, error) {
	var newScore float64
	_, err := f.store.UpdateMemory(ctx, principalID, memoryID, func(m *Memory) error {
		newScore = nextHelpfulness(m.HelpfulnessScore, fb)
		m.HelpfulnessScore = newScore
		m.UpdatedAt = f.clock()
		return nil
	})
	if err != nil {
		return 0, err
	}

	_, err = f.store.UpdateWeights(ctx, principalID, func(w *LearningWeights) error {
		if fb.Helpful {
			w.PositiveFeedbackCount++
		} else {
			w.NegativeFeedbackCount++
		}
		if fb.Satisfaction != nil {
			w.AvgSearchSatisfaction = emaAlpha*(*fb.Satisfaction) + (1-emaAlpha)*w.AvgSearchSatisfaction
		}
		if w.TotalSearches > 0 && w.TotalSearches%10 == 0 {
			f.adapter.adapt(w)
		}
		return nil
	})
	if err != nil {
		return newScore, err
	}
	return newScore, nil
}

// nextHelpfulness applies the update rule: satisfaction (if present) takes
// precedence over the helpful/not-helpful bounded nudge.
func nextHelpfulness(s float64, fb Feedback) float64 {
	switch {
	case fb.Satisfaction != nil:
		return emaAlpha*(*fb.Satisfaction) + (1-emaAlpha)*s
	case fb.Helpful:
		return minF(1.0, s+0.10)
	default:
		return maxF(0.0, s-0.05)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
