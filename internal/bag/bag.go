// Package bag implements the recursive scalar|list|map attribute bag used for
// Memory.metadata and Memory.access_pattern. Structured reads (Contexts) check
// the shape as they read; ValidateAccessPattern and ValidateMetadata check a
// Bag against a JSON schema.
package bag

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Bag is an opaque nested attribute bag: a JSON-shaped unordered mapping of
// scalar, list, or nested-map values. It round-trips through JSON directly;
// the recursive sum type is JSON's own value model (string|number|bool|nil|
// []any|map[string]any), so Bag is just a named map[string]any with helpers.
type Bag map[string]any

// Clone returns a deep copy so callers can hand out Bags without aliasing
// the stored record's internal state.
func (b Bag) Clone() Bag {
	if b == nil {
		return nil
	}
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Bag:
		return Bag(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Contexts reads access_pattern.contexts as a string->nonneg-int map,
// validating its shape. Missing key returns an empty map, not an error.
func (b Bag) Contexts() (map[string]int, error) {
	raw, ok := b["contexts"]
	if !ok || raw == nil {
		return map[string]int{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		if bg, ok2 := raw.(Bag); ok2 {
			m = map[string]any(bg)
		} else {
			return nil, fmt.Errorf("access_pattern.contexts: expected mapping, got %T", raw)
		}
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		n, ok := toNonNegInt(v)
		if !ok {
			return nil, fmt.Errorf("access_pattern.contexts[%q]: expected nonnegative integer, got %v", k, v)
		}
		out[k] = n
	}
	return out, nil
}

// IncrementContext returns a copy of b with contexts[label] incremented by 1,
// creating the contexts mapping and entry as needed.
func (b Bag) IncrementContext(label string) (Bag, error) {
	out := b.Clone()
	if out == nil {
		out = Bag{}
	}
	contexts, err := out.Contexts()
	if err != nil {
		return nil, err
	}
	contexts[label]++
	m := make(map[string]any, len(contexts))
	for k, v := range contexts {
		m[k] = v
	}
	out["contexts"] = m
	return out, nil
}

func toNonNegInt(v any) (int, bool) {
	n, ok := AsInt(v)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

// AsInt normalizes a bag value that should be a whole number. A Bag built in
// process carries the native int a caller assigned; one decoded from JSON
// (Postgres' jsonb round-trip, in particular) carries it as float64 or
// json.Number instead, so every reader that expects an int must go through
// this rather than asserting `.(int)` directly.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// AsStringSlice normalizes a bag value that should be a list of strings. A
// Bag built in process carries the native []string a caller assigned; one
// decoded from JSON carries it as []interface{} instead, so every reader
// that expects a string slice must go through this rather than asserting
// `.([]string)` directly.
func AsStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, elem := range t {
			s, ok := elem.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// schema describes the shape structured reads of access_pattern enforce:
// a mapping whose only recognized field, "contexts", is itself a mapping
// from string keys to nonnegative integers. Unknown top-level fields are
// permitted (forward-compatible readers ignore fields they don't know).
const accessPatternSchema = `{
  "type": "object",
  "properties": {
    "contexts": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    }
  }
}`

var accessPatternSchemaLoader = gojsonschema.NewStringLoader(accessPatternSchema)

// ValidateAccessPattern checks a Bag against the access_pattern JSON schema
// above. The store and the C2/C6/C9 read paths do not call it; they rely on
// the shape checks in Contexts.
func ValidateAccessPattern(b Bag) error {
	if b == nil {
		return nil
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal access_pattern: %w", err)
	}
	result, err := gojsonschema.Validate(accessPatternSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate access_pattern: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("access_pattern shape invalid: %v", result.Errors())
	}
	return nil
}

// ValidateMetadata checks metadata against an arbitrary caller-supplied
// schema; passing an empty schema string skips validation (metadata is
// otherwise unconstrained opaque data per the data model).
func ValidateMetadata(b Bag, schema string) error {
	if schema == "" || b == nil {
		return nil
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate metadata: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("metadata shape invalid: %v", result.Errors())
	}
	return nil
}
