package engine

import (
	"context"
	"testing"
	"time"

	"adaptivememory/internal/apperr"
	"adaptivememory/internal/bag"
	"adaptivememory/internal/classifier"
	"adaptivememory/internal/config"
	"adaptivememory/internal/dispatch"
	"adaptivememory/internal/events"
	"adaptivememory/internal/identity"
	"adaptivememory/internal/memory"
	"adaptivememory/internal/store/memstore"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

type fakeClassifier struct {
	result classifier.Result
	err    error
}

func (c *fakeClassifier) Classify(ctx context.Context, text, hint string) (classifier.Result, error) {
	return c.result, c.err
}

type fakeValidator struct {
	result identity.Result
	err    error
}

func (v *fakeValidator) Validate(ctx context.Context, agentIdentity, responseText string) (identity.Result, error) {
	return v.result, v.err
}

type recordingSink struct {
	events []events.Event
}

func (r *recordingSink) Publish(ctx context.Context, ev events.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func testConfig() config.Config {
	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	return cfg
}

func newTestService(embedder *fakeEmbedder, opts ...Option) (*Service, memory.Store) {
	store := memstore.New()
	svc := New(store, embedder, nil, testConfig(), opts...)
	return svc, store
}

func TestCreateMemory_RejectsMissingPrincipalAndText(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	if _, err := svc.CreateMemory(ctx, "", "text", "", "", nil, nil); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for missing principal, got %v", err)
	}
	if _, err := svc.CreateMemory(ctx, "p1", "   ", "", "", nil, nil); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for empty text, got %v", err)
	}
}

func TestCreateMemory_RejectsOverlongText(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	huge := make([]rune, maxTextRunes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	if _, err := svc.CreateMemory(context.Background(), "p1", string(huge), "", "", nil, nil); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for overlong text, got %v", err)
	}
}

func TestCreateAndGetMemory_RoundTrip(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	m, err := svc.CreateMemory(ctx, "p1", "hello world", "chat", "proj1", []string{"a", "a", "b"}, bag.Bag{"k": "v"})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if len(m.Tags) != 2 {
		t.Fatalf("expected deduped tags, got %v", m.Tags)
	}
	if m.HelpfulnessScore != 0.5 {
		t.Fatalf("expected default helpfulness 0.5, got %v", m.HelpfulnessScore)
	}

	got, analytics, err := svc.GetMemory(ctx, "p1", m.ID, "search")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Text != "hello world" {
		t.Errorf("Text = %q", got.Text)
	}
	_ = analytics
}

func TestGetMemory_NotFound(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	_, _, err := svc.GetMemory(context.Background(), "p1", "missing", "")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestGetMemory_RecordsAccessSynchronouslyWithoutDispatch(t *testing.T) {
	svc, store := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	m, err := svc.CreateMemory(ctx, "p1", "hello world", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if _, _, err := svc.GetMemory(ctx, "p1", m.ID, "search"); err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	after, err := store.GetMemory(ctx, "p1", m.ID)
	if err != nil {
		t.Fatalf("GetMemory (store): %v", err)
	}
	if after.UsageCount == 0 {
		t.Fatalf("expected access to be recorded when no dispatch pool is configured, UsageCount = %d", after.UsageCount)
	}
}

func TestUpdateMemory_PatchLeavesUnsetFieldsUnchanged(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	m, err := svc.CreateMemory(ctx, "p1", "original text", "chat", "proj1", []string{"tag1"}, nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	newSource := "api"
	updated, err := svc.UpdateMemory(ctx, "p1", m.ID, MemoryPatch{Source: &newSource})
	if err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	if updated.Text != "original text" {
		t.Errorf("expected text unchanged, got %q", updated.Text)
	}
	if updated.Source != "api" {
		t.Errorf("expected source updated, got %q", updated.Source)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "tag1" {
		t.Errorf("expected tags unchanged, got %v", updated.Tags)
	}
}

func TestUpdateMemory_TextChangeReEmbeds(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	svc, _ := newTestService(embedder)
	ctx := context.Background()

	m, err := svc.CreateMemory(ctx, "p1", "original text", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	if _, err := svc.Predict(ctx, "p1", "original text", []string{m.ID}, 5); err != nil {
		t.Fatalf("Predict (warm cache): %v", err)
	}

	embedder.vec = []float32{0, 1}
	newText := "revised text"
	updated, err := svc.UpdateMemory(ctx, "p1", m.ID, MemoryPatch{Text: &newText})
	if err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	if updated.Text != "revised text" {
		t.Errorf("Text = %q", updated.Text)
	}
	if updated.Embedding[0] != 0 || updated.Embedding[1] != 1 {
		t.Errorf("expected re-embedded vector, got %v", updated.Embedding)
	}
}

func TestUpdateMemory_RejectsEmptyOrOverlongText(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	m, err := svc.CreateMemory(ctx, "p1", "original", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	blank := "   "
	if _, err := svc.UpdateMemory(ctx, "p1", m.ID, MemoryPatch{Text: &blank}); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for blank text patch, got %v", err)
	}
	huge := make([]rune, maxTextRunes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	overlong := string(huge)
	if _, err := svc.UpdateMemory(ctx, "p1", m.ID, MemoryPatch{Text: &overlong}); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for overlong text patch, got %v", err)
	}
}

func TestDeleteMemory_RemovesRecord(t *testing.T) {
	svc, store := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	m, err := svc.CreateMemory(ctx, "p1", "gone soon", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if err := svc.DeleteMemory(ctx, "p1", m.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if _, err := store.GetMemory(ctx, "p1", m.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected KindNotFound after delete, got %v", err)
	}
}

func TestSearch_RejectsMissingPrincipal(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	_, _, err := svc.Search(context.Background(), "", "query", 5, memory.SearchOptions{})
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestSearch_ReturnsRankedResults(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	if _, err := svc.CreateMemory(ctx, "p1", "alpha content", "", "", nil, nil); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	results, degraded, err := svc.Search(ctx, "p1", "alpha", 5, memory.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if degraded {
		t.Fatal("did not expect degraded result")
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
}

func TestSearch_DegradesOnServiceDegradedError(t *testing.T) {
	embedder := &fakeEmbedder{err: apperr.ServiceDegraded("embedding circuit open")}
	svc, _ := newTestService(embedder)
	ctx := context.Background()

	results, degraded, err := svc.Search(ctx, "p1", "anything", 5, memory.SearchOptions{})
	if err != nil {
		t.Fatalf("expected no error on degraded search, got %v", err)
	}
	if !degraded {
		t.Fatal("expected degraded=true")
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results on degraded search, got %d", len(results))
	}
}

func TestApplyFeedback_PublishesEvent(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}}, WithEventSink(sink))
	ctx := context.Background()

	m, err := svc.CreateMemory(ctx, "p1", "feedback target", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	score, err := svc.ApplyFeedback(ctx, "p1", m.ID, memory.Feedback{Helpful: true})
	if err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if score <= 0.5 {
		t.Errorf("expected score to increase from positive feedback, got %v", score)
	}
	if len(sink.events) != 1 || sink.events[0].Type != events.TypeFeedbackApplied {
		t.Fatalf("expected one feedback_applied event, got %v", sink.events)
	}
}

func TestPredict_ReturnsPredictionsDerivedFromRelationships(t *testing.T) {
	svc, store := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	a, err := svc.CreateMemory(ctx, "p1", "first", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory a: %v", err)
	}
	b, err := svc.CreateMemory(ctx, "p1", "second", "", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateMemory b: %v", err)
	}
	if err := store.CreateRelationship(ctx, &memory.Relationship{
		PrincipalID: "p1",
		From:        a.ID,
		To:          b.ID,
		Type:        memory.RelatedTo,
		Strength:    0.9,
	}); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	preds, err := svc.Predict(ctx, "p1", "", []string{a.ID}, 5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	found := false
	for _, p := range preds {
		if p.MemoryID == b.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s among predictions, got %v", b.ID, preds)
	}
}

func TestAnalyze_ReturnsCollapsedReportAndPublishesEvents(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}}, WithEventSink(sink))
	ctx := context.Background()

	if _, err := svc.CreateMemory(ctx, "p1", "alpha content", "", "", nil, nil); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	report, err := svc.Analyze(ctx, "p1", false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report == nil {
		t.Fatal("expected non-nil report")
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected pattern_discovered and maintenance_run events (no suggestion_applied without auto-apply), got %d: %v", len(sink.events), sink.events)
	}
	if sink.events[0].Type != events.TypePatternDiscovered {
		t.Errorf("events[0].Type = %v", sink.events[0].Type)
	}
	if sink.events[len(sink.events)-1].Type != events.TypeMaintenanceRun {
		t.Errorf("last event Type = %v", sink.events[len(sink.events)-1].Type)
	}
}

func TestMaintenanceReport_DelegatesToAnalyzer(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	if _, err := svc.CreateMemory(ctx, "p1", "alpha content", "", "", nil, nil); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	report, err := svc.MaintenanceReport(ctx, "p1")
	if err != nil {
		t.Fatalf("MaintenanceReport: %v", err)
	}
	if report == nil {
		t.Fatal("expected non-nil report")
	}
}

func TestLearningMetrics_FiltersBySinceAndComputesTrend(t *testing.T) {
	svc, store := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()
	now := time.Now()

	old := now.Add(-60 * 24 * time.Hour)
	recent1 := now.Add(-2 * 24 * time.Hour)
	recent2 := now.Add(-1 * 24 * time.Hour)

	_ = store.RecordMetric(ctx, &memory.LearningMetric{PrincipalID: "p1", Type: memory.MetricSearchAccuracy, Value: 0.9, RecordedAt: old})
	low, high := 0.5, 0.8
	_ = store.RecordMetric(ctx, &memory.LearningMetric{PrincipalID: "p1", Type: memory.MetricSearchAccuracy, Value: low, RecordedAt: recent1})
	_ = store.RecordMetric(ctx, &memory.LearningMetric{PrincipalID: "p1", Type: memory.MetricSearchAccuracy, Value: high, RecordedAt: recent2})

	report, err := svc.LearningMetrics(ctx, "p1", 30)
	if err != nil {
		t.Fatalf("LearningMetrics: %v", err)
	}
	series, ok := report.Series[memory.MetricSearchAccuracy]
	if !ok {
		t.Fatal("expected search_accuracy series")
	}
	if len(series.Points) != 2 {
		t.Fatalf("expected the 60-day-old point excluded by the 30-day window, got %d points", len(series.Points))
	}
	wantTrend := high - low
	if series.Trend != wantTrend {
		t.Errorf("Trend = %v, want %v", series.Trend, wantTrend)
	}
	for _, mt := range recognizedMetricTypes {
		if _, ok := report.Series[mt]; !ok {
			t.Errorf("missing recognized metric type %v in report", mt)
		}
	}
}

func TestClassifyAndMaybeSave_WithoutClassifierConfigured(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	_, _, err := svc.ClassifyAndMaybeSave(context.Background(), "p1", "text", "", "", "", nil)
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput when no classifier is configured, got %v", err)
	}
}

func TestClassifyAndMaybeSave_SavesWhenClassifierSaysSo(t *testing.T) {
	fc := &fakeClassifier{result: classifier.Result{ShouldSave: true, Reasoning: "looks durable"}}
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}}, WithClassifier(fc))

	m, result, err := svc.ClassifyAndMaybeSave(context.Background(), "p1", "remember this", "", "chat", "", nil)
	if err != nil {
		t.Fatalf("ClassifyAndMaybeSave: %v", err)
	}
	if m == nil {
		t.Fatal("expected memory to be saved")
	}
	if !result.ShouldSave {
		t.Errorf("expected ShouldSave=true in result")
	}
}

func TestClassifyAndMaybeSave_SkipsSaveWhenClassifierDeclines(t *testing.T) {
	fc := &fakeClassifier{result: classifier.Result{ShouldSave: false, Reasoning: "just brainstorming"}}
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}}, WithClassifier(fc))

	m, result, err := svc.ClassifyAndMaybeSave(context.Background(), "p1", "just thinking out loud", "", "", "", nil)
	if err != nil {
		t.Fatalf("ClassifyAndMaybeSave: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no memory saved, got %v", m)
	}
	if result.ShouldSave {
		t.Errorf("expected ShouldSave=false in result")
	}
}

func TestValidateIdentity_WithoutValidatorConfigured(t *testing.T) {
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}})
	_, err := svc.ValidateIdentity(context.Background(), "agent1", "response text")
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput when no validator is configured, got %v", err)
	}
}

func TestValidateIdentity_DelegatesToValidator(t *testing.T) {
	fv := &fakeValidator{result: identity.Result{CorrectedText: "response text"}}
	svc, _ := newTestService(&fakeEmbedder{vec: []float32{1, 0}}, WithIdentityValidator(fv))
	result, err := svc.ValidateIdentity(context.Background(), "agent1", "response text")
	if err != nil {
		t.Fatalf("ValidateIdentity: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("expected no violations, got %v", result.Violations)
	}
}

func TestNew_WiresDispatchPoolOntoService(t *testing.T) {
	store := memstore.New()
	pool := dispatch.New(1, 4)
	defer pool.Stop()
	svc := New(store, &fakeEmbedder{vec: []float32{1, 0}}, pool, testConfig())
	if svc.dispatch != pool {
		t.Fatal("expected dispatch pool to be wired onto the service")
	}
}
