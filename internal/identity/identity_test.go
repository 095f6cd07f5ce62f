package identity

import (
	"context"
	"testing"
)

func TestTableValidator_DetectsAndRedacts(t *testing.T) {
	v := NewTableValidator(map[string][]string{
		"agent-1": {"GPT-4", "a competing assistant"},
	}, true)

	res, err := v.Validate(context.Background(), "agent-1", "I am built on GPT-4 under the hood.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(res.Violations))
	}
	if res.Violations[0].Span != "GPT-4" {
		t.Errorf("unexpected span: %q", res.Violations[0].Span)
	}
	if res.CorrectedText != "I am built on [redacted] under the hood." {
		t.Errorf("unexpected corrected text: %q", res.CorrectedText)
	}
}

func TestTableValidator_NoMatchesNoCorrection(t *testing.T) {
	v := NewTableValidator(map[string][]string{"agent-1": {"Claude"}}, true)
	res, _ := v.Validate(context.Background(), "agent-1", "I help with memory.")
	if len(res.Violations) != 0 || res.CorrectedText != "" {
		t.Fatalf("expected no violations, got %+v", res)
	}
}

func TestTableValidator_UnknownIdentityNoTable(t *testing.T) {
	v := NewTableValidator(map[string][]string{"agent-1": {"Claude"}}, true)
	res, err := v.Validate(context.Background(), "agent-unknown", "anything goes")
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("expected no violations for unknown identity, got %+v err=%v", res, err)
	}
}
