package engine

import (
	"time"

	"adaptivememory/internal/classifier"
	"adaptivememory/internal/events"
	"adaptivememory/internal/identity"
)

// Option configures an optional Service dependency. Unset options default to
// a no-op (events), a nil classifier/validator (the corresponding helper
// methods become unavailable and report InvalidInput), and the wall clock.
type Option func(*Service)

// WithClassifier wires the auto-save LLM classifier (§6). Without it,
// ClassifyAndMaybeSave returns InvalidInput.
func WithClassifier(c classifier.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithIdentityValidator wires the identity-validation contract (§6).
func WithIdentityValidator(v identity.Validator) Option {
	return func(s *Service) { s.identity = v }
}

// WithEventSink wires the external event sink. Defaults to events.NoopSink.
func WithEventSink(sink events.Sink) Option {
	return func(s *Service) { s.events = sink }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}
