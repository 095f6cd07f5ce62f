package memory

import (
	"context"
	"time"

	"adaptivememory/internal/apperr"
	"adaptivememory/internal/observability"
)

// UsageTracker is C2: record_access(memory_id, context_label?).
type UsageTracker struct {
	store Store
	clock func() time.Time
}

func NewUsageTracker(store Store) *UsageTracker {
	return &UsageTracker{store: store, clock: time.Now}
}

// RecordAccess performs the atomic increment the concurrency model requires:
// usage_count += 1, last_accessed = now, and (if contextLabel != "")
// access_pattern.contexts[contextLabel] += 1. Errors are the caller's to
// log-and-swallow when invoked from a read path, per §7's recovered-locally
// policy; RecordAccess itself returns the real IncrementUsage error (NotFound
// on a missing memory) rather than hiding it, so synchronous callers can
// surface it if they choose to. A failure to append the access event is
// logged and not returned.
func (t *UsageTracker) RecordAccess(ctx context.Context, principalID, memoryID, contextLabel string) error {
	now := t.clock()
	if err := t.store.IncrementUsage(ctx, principalID, memoryID, contextLabel, now); err != nil {
		return err
	}
	if err := t.store.AppendAccessEvent(ctx, &AccessEvent{
		PrincipalID:  principalID,
		MemoryID:     memoryID,
		ContextLabel: contextLabel,
		AccessedAt:   now,
	}); err != nil {
		log := observability.LoggerWithTrace(ctx)
		log.Warn().Err(err).Str("memory_id", memoryID).Msg("append_access_event_failed")
	}
	return nil
}

// RecordAccessFireAndForget is the fire-and-forget wrapper used by C4's
// learning_mode and by the ingest/read paths: logs and swallows all errors.
func (t *UsageTracker) RecordAccessFireAndForget(ctx context.Context, principalID, memoryID, contextLabel string) {
	if err := t.RecordAccess(ctx, principalID, memoryID, contextLabel); err != nil {
		log := observability.LoggerWithTrace(ctx)
		if apperr.Is(err, apperr.KindNotFound) {
			log.Debug().Str("memory_id", memoryID).Msg("record_access_memory_not_found")
			return
		}
		log.Error().Err(err).Str("memory_id", memoryID).Msg("record_access_failed")
	}
}
