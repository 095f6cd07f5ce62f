// Package identity implements the identity-validation contract (§6):
// checking a response against substring tables of known base-model
// references provided out of band.
package identity

import (
	"context"
	"strings"
)

// Violation names a detected substring match and where it occurred.
type Violation struct {
	Type string // the table entry that matched
	Span string // the matched substring, verbatim
}

// Result is the outcome of validating one response against an identity.
type Result struct {
	Violations    []Violation
	CorrectedText string
}

// Validator checks whether response_text leaks a forbidden base-model
// reference for the given agent identity. Match tables are supplied out of
// band (NewTableValidator); the core does not interpret their contents.
type Validator interface {
	Validate(ctx context.Context, agentIdentity string, responseText string) (Result, error)
}

// TableValidator does case-insensitive substring matching against a fixed
// table of forbidden references, optionally redacting matches.
type TableValidator struct {
	forbidden map[string][]string // agentIdentity -> forbidden substrings
	redact    bool
}

func NewTableValidator(forbidden map[string][]string, redact bool) *TableValidator {
	return &TableValidator{forbidden: forbidden, redact: redact}
}

func (v *TableValidator) Validate(_ context.Context, agentIdentity string, responseText string) (Result, error) {
	table := v.forbidden[agentIdentity]
	res := Result{}
	corrected := responseText
	lower := strings.ToLower(responseText)
	for _, entry := range table {
		needle := strings.ToLower(entry)
		if needle == "" {
			continue
		}
		idx := strings.Index(lower, needle)
		if idx == -1 {
			continue
		}
		span := responseText[idx : idx+len(entry)]
		res.Violations = append(res.Violations, Violation{Type: entry, Span: span})
		if v.redact {
			corrected = strings.ReplaceAll(corrected, span, "[redacted]")
		}
	}
	if v.redact && len(res.Violations) > 0 {
		res.CorrectedText = corrected
	}
	return res, nil
}
