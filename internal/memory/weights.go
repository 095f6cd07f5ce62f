package memory

import "time"

// WeightAdapter is C5: it evolves a principal's LearningWeights from feedback
// statistics accumulated since the last adaptation. It holds no state of its
// own; FeedbackIntegrator calls adapt once every 10 searches.
type WeightAdapter struct {
	clock func() time.Time
}

func NewWeightAdapter() *WeightAdapter {
	return &WeightAdapter{clock: time.Now}
}

// adapt mutates w in place per the documented rule. No renormalization:
// weights are independent multipliers, not a probability simplex.
func (a *WeightAdapter) adapt(w *LearningWeights) {
	total := w.TotalSearches
	if total < 1 {
		total = 1
	}
	negRatio := float64(w.NegativeFeedbackCount) / float64(total)
	posRatio := float64(w.PositiveFeedbackCount) / float64(total)

	if negRatio > 0.30 {
		w.HelpfulnessWeight = minF(0.80, w.HelpfulnessWeight+0.05)
	}
	if posRatio > 0.70 {
		w.UsageWeight = maxF(0.20, w.UsageWeight-0.05)
	}

	w.UsageWeight = clamp01(w.UsageWeight)
	w.RecencyWeight = clamp01(w.RecencyWeight)
	w.HelpfulnessWeight = clamp01(w.HelpfulnessWeight)
	w.RelationshipWeight = clamp01(w.RelationshipWeight)
	w.LastWeightUpdate = a.clock()
}

func clamp01(v float64) float64 {
	return maxF(0.0, minF(1.0, v))
}
