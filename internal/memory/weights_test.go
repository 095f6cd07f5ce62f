package memory

import "testing"

func TestWeightAdapter_S4Scenario(t *testing.T) {
	w := DefaultWeights("p1")
	w.TotalSearches = 10
	w.NegativeFeedbackCount = 4
	w.PositiveFeedbackCount = 0

	a := NewWeightAdapter()
	a.adapt(w)

	if w.HelpfulnessWeight != 0.55 {
		t.Errorf("HelpfulnessWeight = %v, want 0.55", w.HelpfulnessWeight)
	}
	if w.UsageWeight != 0.3 {
		t.Errorf("UsageWeight = %v, want unchanged 0.3", w.UsageWeight)
	}
	if w.RecencyWeight != 0.2 || w.RelationshipWeight != 0.2 {
		t.Errorf("recency/relationship weights changed unexpectedly: %v %v", w.RecencyWeight, w.RelationshipWeight)
	}
	if w.LastWeightUpdate.IsZero() {
		t.Error("LastWeightUpdate not set")
	}
}

func TestWeightAdapter_PosRatioLowersUsageWeight(t *testing.T) {
	w := DefaultWeights("p1")
	w.TotalSearches = 10
	w.PositiveFeedbackCount = 8
	w.NegativeFeedbackCount = 0

	a := NewWeightAdapter()
	a.adapt(w)

	if w.UsageWeight != 0.25 {
		t.Errorf("UsageWeight = %v, want 0.25", w.UsageWeight)
	}
	if w.HelpfulnessWeight != 0.5 {
		t.Errorf("HelpfulnessWeight = %v, want unchanged 0.5", w.HelpfulnessWeight)
	}
}

func TestWeightAdapter_ConvergesAfterRepeatedNegativeFeedback(t *testing.T) {
	w := DefaultWeights("p1")
	a := NewWeightAdapter()

	for i := 0; i < 10; i++ {
		w.TotalSearches += 10
		w.NegativeFeedbackCount += 4
		a.adapt(w)
	}

	if w.HelpfulnessWeight != 0.80 {
		t.Errorf("HelpfulnessWeight after convergence = %v, want 0.80 (clamped ceiling)", w.HelpfulnessWeight)
	}
}

func TestWeightAdapter_NoAdaptionWithinThresholds(t *testing.T) {
	w := DefaultWeights("p1")
	w.TotalSearches = 10
	w.NegativeFeedbackCount = 2
	w.PositiveFeedbackCount = 5

	a := NewWeightAdapter()
	a.adapt(w)

	if w.HelpfulnessWeight != 0.5 || w.UsageWeight != 0.3 {
		t.Errorf("weights changed despite ratios within thresholds: helpfulness=%v usage=%v", w.HelpfulnessWeight, w.UsageWeight)
	}
}

func TestWeightAdapter_ClampsToUnitInterval(t *testing.T) {
	w := DefaultWeights("p1")
	w.UsageWeight = 0.22
	w.TotalSearches = 10
	w.PositiveFeedbackCount = 10

	a := NewWeightAdapter()
	a.adapt(w)

	if w.UsageWeight < 0.20 || w.UsageWeight > 1.0 {
		t.Errorf("UsageWeight out of range: %v", w.UsageWeight)
	}
}
