// Package engine wires the C1-C9 components behind the ten core-exposed
// operations (§6): create_memory, get_memory, update_memory, delete_memory,
// search, apply_feedback, predict, analyze, maintenance_report, and
// learning_metrics. It owns no storage or transport of its own — every
// mutation goes through the injected Store, every embedding through the
// injected Provider.
package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"adaptivememory/internal/apperr"
	"adaptivememory/internal/bag"
	"adaptivememory/internal/classifier"
	"adaptivememory/internal/config"
	"adaptivememory/internal/dispatch"
	"adaptivememory/internal/embedding"
	"adaptivememory/internal/events"
	"adaptivememory/internal/identity"
	"adaptivememory/internal/memory"
	"adaptivememory/internal/observability"
)

// maxTextRunes is §3's bound on Memory.Text.
const maxTextRunes = 10000

// Service is the engine's single entry point, following the teacher's
// functional-options constructor shape. The C1-C9 components it wires are
// unexported: callers interact with Service, never with memory.Ranker et al.
// directly.
type Service struct {
	store      memory.Store
	embedder   embedding.Provider
	classifier classifier.Classifier
	identity   identity.Validator
	events     events.Sink
	dispatch   *dispatch.Pool

	tracker     *memory.UsageTracker
	feedback    *memory.FeedbackIntegrator
	ranker      *memory.Ranker
	miner       *memory.PatternMiner
	predictor   *memory.Predictor
	maintenance *memory.MaintenanceAnalyzer
	suggester   *memory.RelationshipSuggester

	clock func() time.Time
}

// New wires every C1-C9 component against store/embedder/pool, reading cfg's
// predictor and pattern_miner knobs, then applies opts. The ranker and the
// maintenance analyzer use their built-in limits, not cfg.Ranker or
// cfg.Maintenance.
func New(store memory.Store, embedder embedding.Provider, pool *dispatch.Pool, cfg config.Config, opts ...Option) *Service {
	tracker := memory.NewUsageTracker(store)
	adapter := memory.NewWeightAdapter()
	sequenceWindow := time.Duration(cfg.PatternMiner.SequenceWindowMinutes) * time.Minute

	s := &Service{
		store:       store,
		embedder:    embedder,
		events:      events.NoopSink{},
		dispatch:    pool,
		tracker:     tracker,
		feedback:    memory.NewFeedbackIntegrator(store, adapter),
		ranker:      memory.NewRanker(store, embedder, tracker, pool),
		miner:       memory.NewPatternMiner(store, sequenceWindow),
		predictor:   memory.NewPredictor(store, embedder, cfg.Predictor.CacheTTL(), cfg.Predictor.MinConfidence),
		maintenance: memory.NewMaintenanceAnalyzer(store),
		suggester:   memory.NewRelationshipSuggester(store),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMemory implements create_memory(principal, text, source?,
// project_id?, tags?, metadata?). The embedding is produced synchronously;
// a provider failure (including an open circuit breaker) fails the call
// rather than persisting a memory with no embedding.
func (s *Service) CreateMemory(ctx context.Context, principalID, text, source, projectID string, tags []string, metadata bag.Bag) (*memory.Memory, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, apperr.InvalidInput("principal is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidInput("text is required")
	}
	if utf8.RuneCountInString(text) > maxTextRunes {
		return nil, apperr.InvalidInput("text exceeds maximum length")
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	m := &memory.Memory{
		ID:               memory.NewID("mem"),
		PrincipalID:      principalID,
		Text:             text,
		Tags:             dedupeTags(tags),
		Metadata:         metadata.Clone(),
		Source:           source,
		ProjectID:        projectID,
		CreatedAt:        now,
		UpdatedAt:        now,
		HelpfulnessScore: 0.5,
		AccessPattern:    bag.Bag{"contexts": bag.Bag{}},
		Embedding:        vec,
	}
	if err := s.store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// ClassifyAndMaybeSave runs the auto-save classifier over text and, when it
// reports should_save, creates the memory. It reports the classification
// either way so a caller can surface the reasoning for a brainstorming
// rejection.
func (s *Service) ClassifyAndMaybeSave(ctx context.Context, principalID, text, hint, source, projectID string, tags []string) (*memory.Memory, classifier.Result, error) {
	if s.classifier == nil {
		return nil, classifier.Result{}, apperr.InvalidInput("no classifier configured")
	}
	result, err := s.classifier.Classify(ctx, text, hint)
	if err != nil {
		return nil, classifier.Result{}, err
	}
	if !result.ShouldSave {
		return nil, result, nil
	}
	m, err := s.CreateMemory(ctx, principalID, text, source, projectID, tags, nil)
	if err != nil {
		return nil, result, err
	}
	return m, result, nil
}

// ValidateIdentity runs the identity-validation contract (§6) over response
// text bound for an external agent.
func (s *Service) ValidateIdentity(ctx context.Context, agentIdentity, responseText string) (identity.Result, error) {
	if s.identity == nil {
		return identity.Result{}, apperr.InvalidInput("no identity validator configured")
	}
	return s.identity.Validate(ctx, agentIdentity, responseText)
}

// GetMemory implements get_memory(principal, id, context?). The access that
// a read represents is recorded fire-and-forget (C2), never blocking the
// response or surfacing a tracking failure; the returned Analytics (C1) is a
// pure projection over the fetched snapshot.
func (s *Service) GetMemory(ctx context.Context, principalID, id, contextLabel string) (*memory.Memory, memory.Analytics, error) {
	m, err := s.store.GetMemory(ctx, principalID, id)
	if err != nil {
		return nil, memory.Analytics{}, err
	}
	now := s.clock()
	analytics := memory.ProjectAnalytics(m, now)

	recordAccess := func(taskCtx context.Context) {
		s.tracker.RecordAccessFireAndForget(taskCtx, principalID, id, contextLabel)
	}
	if s.dispatch != nil {
		s.dispatch.Submit(recordAccess)
	} else {
		recordAccess(ctx)
	}
	return m, analytics, nil
}

// UpdateMemory implements update_memory(principal, id, patch). Changing Text
// re-embeds synchronously and evicts any cached prediction that might
// reference the memory by its old content.
func (s *Service) UpdateMemory(ctx context.Context, principalID, id string, patch MemoryPatch) (*memory.Memory, error) {
	var newEmbedding []float32
	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return nil, apperr.InvalidInput("text must not be empty")
		}
		if utf8.RuneCountInString(text) > maxTextRunes {
			return nil, apperr.InvalidInput("text exceeds maximum length")
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		newEmbedding = vec
		patch.Text = &text
	}

	now := s.clock()
	updated, err := s.store.UpdateMemory(ctx, principalID, id, func(m *memory.Memory) error {
		if patch.Text != nil {
			m.Text = *patch.Text
			m.Embedding = newEmbedding
		}
		if patch.Tags != nil {
			m.Tags = dedupeTags(*patch.Tags)
		}
		if patch.Metadata != nil {
			m.Metadata = patch.Metadata.Clone()
		}
		if patch.Source != nil {
			m.Source = *patch.Source
		}
		if patch.ProjectID != nil {
			m.ProjectID = *patch.ProjectID
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if patch.Text != nil {
		if err := s.predictor.EvictForMemory(ctx, principalID, id); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("memory_id", id).Msg("predictor_cache_evict_failed")
		}
	}
	return updated, nil
}

// DeleteMemory implements delete_memory(principal, id). The store cascades
// the deletion to relationships; this also evicts any cached prediction
// referencing the memory.
func (s *Service) DeleteMemory(ctx context.Context, principalID, id string) error {
	if err := s.store.DeleteMemory(ctx, principalID, id); err != nil {
		return err
	}
	if err := s.predictor.EvictForMemory(ctx, principalID, id); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("memory_id", id).Msg("predictor_cache_evict_failed")
	}
	return nil
}

// Search implements search(principal, query, options) (§4.4). Per §7, a
// synchronous path that cannot complete because the embedding provider's
// circuit is open degrades to an empty result rather than an error; the
// second return reports that degradation.
func (s *Service) Search(ctx context.Context, principalID, queryText string, k int, opts memory.SearchOptions) ([]memory.SearchResult, bool, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, false, apperr.InvalidInput("principal is required")
	}
	results, err := s.ranker.Search(ctx, principalID, queryText, k, opts)
	if err != nil {
		if apperr.Is(err, apperr.KindServiceDegraded) {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("search_degraded")
			return []memory.SearchResult{}, true, nil
		}
		return nil, false, err
	}
	return results, false, nil
}

// ApplyFeedback implements apply_feedback(principal, id, feedback) (§4.2).
func (s *Service) ApplyFeedback(ctx context.Context, principalID, memoryID string, fb memory.Feedback) (float64, error) {
	score, err := s.feedback.ApplyFeedback(ctx, principalID, memoryID, fb)
	if err != nil {
		return 0, err
	}
	s.publishEvent(ctx, events.Event{
		Type:        events.TypeFeedbackApplied,
		PrincipalID: principalID,
		MemoryID:    memoryID,
		OccurredAt:  s.clock(),
		Attributes:  map[string]any{"helpful": fb.Helpful, "new_score": score},
	})
	return score, nil
}

// Predict implements predict(principal, recent_ids, context?, k) (§4.7).
func (s *Service) Predict(ctx context.Context, principalID, contextText string, recentIDs []string, k int) ([]memory.Prediction, error) {
	return s.predictor.Predict(ctx, principalID, contextText, recentIDs, k)
}

// Analyze implements the collapsed analyze(principal, auto_apply?) (§1
// Open Question: the source's analyze/analyze-enhanced split is folded into
// one operation returning both phases' output plus C8's stale count).
func (s *Service) Analyze(ctx context.Context, principalID string, autoApply bool) (*AnalysisReport, error) {
	patterns, err := s.miner.Mine(ctx, principalID, time.Time{})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, events.Event{
		Type:        events.TypePatternDiscovered,
		PrincipalID: principalID,
		OccurredAt:  s.clock(),
		Attributes:  map[string]any{"pattern_count": len(patterns)},
	})

	suggestions, err := s.suggester.Suggest(ctx, principalID, autoApply)
	if err != nil {
		return nil, err
	}
	if autoApply {
		for _, sug := range suggestions {
			if sug.Confidence < 0.75 {
				continue
			}
			s.publishEvent(ctx, events.Event{
				Type:        events.TypeSuggestionApplied,
				PrincipalID: principalID,
				OccurredAt:  s.clock(),
				Attributes:  map[string]any{"from": sug.From, "to": sug.To, "type": string(sug.Type)},
			})
		}
	}

	report, err := s.maintenance.Analyze(ctx, principalID)
	if err != nil {
		return nil, err
	}
	staleCount := len(report.Outdated)
	s.publishEvent(ctx, events.Event{
		Type:        events.TypeMaintenanceRun,
		PrincipalID: principalID,
		OccurredAt:  s.clock(),
		Attributes:  map[string]any{"stale_count": staleCount},
	})

	return &AnalysisReport{Patterns: patterns, Suggestions: suggestions, StaleCount: staleCount}, nil
}

// MaintenanceReport implements maintenance_report(principal) (§4.8).
func (s *Service) MaintenanceReport(ctx context.Context, principalID string) (*memory.MaintenanceReport, error) {
	return s.maintenance.Analyze(ctx, principalID)
}

// recognizedMetricTypes is the fixed set §3 names for LearningMetric.
var recognizedMetricTypes = []memory.MetricType{
	memory.MetricSearchAccuracy,
	memory.MetricPredictionAccuracy,
	memory.MetricAvgHelpfulness,
	memory.MetricUserSatisfaction,
	memory.MetricRelationshipQuality,
}

// LearningMetrics implements learning_metrics(principal, days) (§3): one
// time series per recognized metric type, plus a first-to-last trend.
func (s *Service) LearningMetrics(ctx context.Context, principalID string, days int) (*LearningMetricsReport, error) {
	if days <= 0 {
		days = 30
	}
	since := s.clock().Add(-time.Duration(days) * 24 * time.Hour)

	out := &LearningMetricsReport{Series: make(map[memory.MetricType]MetricSeries, len(recognizedMetricTypes))}
	for _, t := range recognizedMetricTypes {
		points, err := s.store.ListMetrics(ctx, principalID, t, since)
		if err != nil {
			return nil, err
		}
		out.Series[t] = MetricSeries{Type: t, Points: points, Trend: trend(points)}
	}
	return out, nil
}

// publishEvent hands ev to the configured sink fire-and-forget, matching
// record_access's recovered-locally policy: a sink failure is logged and
// never surfaces to the caller.
func (s *Service) publishEvent(ctx context.Context, ev events.Event) {
	publish := func(taskCtx context.Context) {
		if err := s.events.Publish(taskCtx, ev); err != nil {
			observability.LoggerWithTrace(taskCtx).Warn().Err(err).Str("event_type", string(ev.Type)).Msg("event_publish_failed")
		}
	}
	if s.dispatch != nil {
		s.dispatch.Submit(publish)
		return
	}
	publish(ctx)
}
