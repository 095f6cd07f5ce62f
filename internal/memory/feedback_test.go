package memory

import (
	"context"
	"testing"
)

// fakeFeedbackStore implements Store, overriding only what ApplyFeedback uses.
type fakeFeedbackStore struct {
	Store
	mem     *Memory
	weights *LearningWeights
}

func (f *fakeFeedbackStore) UpdateMemory(ctx context.Context, principalID, id string, mutate func(*Memory) error) (*Memory, error) {
	if err := mutate(f.mem); err != nil {
		return nil, err
	}
	return f.mem, nil
}

func (f *fakeFeedbackStore) UpdateWeights(ctx context.Context, principalID string, mutate func(*LearningWeights) error) (*LearningWeights, error) {
	if err := mutate(f.weights); err != nil {
		return nil, err
	}
	return f.weights, nil
}

func TestApplyFeedback_SatisfactionEMA(t *testing.T) {
	store := &fakeFeedbackStore{mem: &Memory{HelpfulnessScore: 0.5}, weights: DefaultWeights("p1")}
	fi := NewFeedbackIntegrator(store, NewWeightAdapter())

	sat := 0.9
	score, err := fi.ApplyFeedback(context.Background(), "p1", "m1", Feedback{Helpful: true, Satisfaction: &sat})
	if err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	want := 0.3*0.9 + 0.7*0.5
	if score != want {
		t.Errorf("score = %v, want %v", score, want)
	}
	if store.weights.PositiveFeedbackCount != 1 {
		t.Errorf("PositiveFeedbackCount = %d, want 1", store.weights.PositiveFeedbackCount)
	}
}

func TestApplyFeedback_HelpfulBoundedNudge(t *testing.T) {
	store := &fakeFeedbackStore{mem: &Memory{HelpfulnessScore: 0.95}, weights: DefaultWeights("p1")}
	fi := NewFeedbackIntegrator(store, NewWeightAdapter())

	score, err := fi.ApplyFeedback(context.Background(), "p1", "m1", Feedback{Helpful: true})
	if err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want clamped 1.0", score)
	}
}

func TestApplyFeedback_NotHelpfulBoundedNudge(t *testing.T) {
	store := &fakeFeedbackStore{mem: &Memory{HelpfulnessScore: 0.02}, weights: DefaultWeights("p1")}
	fi := NewFeedbackIntegrator(store, NewWeightAdapter())

	score, err := fi.ApplyFeedback(context.Background(), "p1", "m1", Feedback{Helpful: false})
	if err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if score != 0.0 {
		t.Errorf("score = %v, want clamped 0.0", score)
	}
	if store.weights.NegativeFeedbackCount != 1 {
		t.Errorf("NegativeFeedbackCount = %d, want 1", store.weights.NegativeFeedbackCount)
	}
}

func TestApplyFeedback_TriggersWeightAdaptationEveryTenSearches(t *testing.T) {
	w := DefaultWeights("p1")
	w.TotalSearches = 10
	w.NegativeFeedbackCount = 3
	store := &fakeFeedbackStore{mem: &Memory{HelpfulnessScore: 0.5}, weights: w}
	fi := NewFeedbackIntegrator(store, NewWeightAdapter())

	if _, err := fi.ApplyFeedback(context.Background(), "p1", "m1", Feedback{Helpful: false}); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}

	if w.NegativeFeedbackCount != 4 {
		t.Fatalf("NegativeFeedbackCount = %d, want 4", w.NegativeFeedbackCount)
	}
	if w.HelpfulnessWeight != 0.55 {
		t.Errorf("HelpfulnessWeight = %v, want 0.55 (adaptation should have fired)", w.HelpfulnessWeight)
	}
}

func TestApplyFeedback_NoAdaptationOffTenBoundary(t *testing.T) {
	w := DefaultWeights("p1")
	w.TotalSearches = 11
	store := &fakeFeedbackStore{mem: &Memory{HelpfulnessScore: 0.5}, weights: w}
	fi := NewFeedbackIntegrator(store, NewWeightAdapter())

	if _, err := fi.ApplyFeedback(context.Background(), "p1", "m1", Feedback{Helpful: false}); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if w.HelpfulnessWeight != 0.5 {
		t.Errorf("HelpfulnessWeight = %v, want unchanged 0.5 (not a multiple of 10)", w.HelpfulnessWeight)
	}
}
