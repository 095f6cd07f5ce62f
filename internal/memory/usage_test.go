package memory

import (
	"context"
	"testing"
	"time"

	"adaptivememory/internal/apperr"
)

type fakeUsageStore struct {
	Store
	incrementCalls int
	lastContext    string
	events         []*AccessEvent
	incrementErr   error
	appendErr      error
}

func (f *fakeUsageStore) IncrementUsage(ctx context.Context, principalID, id, contextLabel string, now time.Time) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.incrementCalls++
	f.lastContext = contextLabel
	return nil
}

func (f *fakeUsageStore) AppendAccessEvent(ctx context.Context, ev *AccessEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, ev)
	return nil
}

func TestUsageTracker_RecordAccess(t *testing.T) {
	store := &fakeUsageStore{}
	tr := NewUsageTracker(store)

	if err := tr.RecordAccess(context.Background(), "p1", "m1", "search"); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if store.incrementCalls != 1 {
		t.Errorf("incrementCalls = %d, want 1", store.incrementCalls)
	}
	if len(store.events) != 1 || store.events[0].ContextLabel != "search" {
		t.Errorf("events = %+v, want one event with context 'search'", store.events)
	}
}

func TestUsageTracker_RecordAccess_PropagatesIncrementError(t *testing.T) {
	store := &fakeUsageStore{incrementErr: apperr.NotFound("missing")}
	tr := NewUsageTracker(store)

	if err := tr.RecordAccess(context.Background(), "p1", "m1", ""); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestUsageTracker_RecordAccess_SwallowsAppendEventError(t *testing.T) {
	store := &fakeUsageStore{appendErr: apperr.NotFound("missing")}
	tr := NewUsageTracker(store)

	if err := tr.RecordAccess(context.Background(), "p1", "m1", ""); err != nil {
		t.Fatalf("RecordAccess should swallow append-event failure, got %v", err)
	}
}

func TestUsageTracker_RecordAccessFireAndForget_DoesNotPanicOnError(t *testing.T) {
	store := &fakeUsageStore{incrementErr: apperr.NotFound("missing")}
	tr := NewUsageTracker(store)
	tr.RecordAccessFireAndForget(context.Background(), "p1", "missing", "")
}
