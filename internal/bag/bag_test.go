package bag

import "testing"

func TestContexts_MissingReturnsEmpty(t *testing.T) {
	b := Bag{}
	ctx, err := b.Contexts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ctx) != 0 {
		t.Fatalf("expected empty map, got %v", ctx)
	}
}

func TestIncrementContext(t *testing.T) {
	b := Bag{}
	b, err := b.IncrementContext("chat")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	b, err = b.IncrementContext("chat")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	ctx, err := b.Contexts()
	if err != nil {
		t.Fatalf("contexts: %v", err)
	}
	if ctx["chat"] != 2 {
		t.Fatalf("expected chat=2, got %d", ctx["chat"])
	}
}

func TestContexts_RejectsNegative(t *testing.T) {
	b := Bag{"contexts": map[string]any{"chat": -1}}
	if _, err := b.Contexts(); err == nil {
		t.Fatalf("expected error for negative count")
	}
}

func TestValidateAccessPattern(t *testing.T) {
	b := Bag{"contexts": map[string]any{"chat": 3, "cli": 1}}
	if err := ValidateAccessPattern(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAccessPattern_RejectsWrongShape(t *testing.T) {
	b := Bag{"contexts": "not-a-map"}
	if err := ValidateAccessPattern(b); err == nil {
		t.Fatalf("expected error for malformed contexts")
	}
}

func TestClone_Independence(t *testing.T) {
	b := Bag{"contexts": map[string]any{"chat": 1}}
	c := b.Clone()
	c["contexts"].(map[string]any)["chat"] = 99
	orig, _ := b.Contexts()
	if orig["chat"] != 1 {
		t.Fatalf("clone mutation leaked into original: %v", orig)
	}
}
