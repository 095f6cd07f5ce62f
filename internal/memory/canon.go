package memory

import (
	"encoding/json"
	"sort"

	"adaptivememory/internal/bag"
)

// canonicalize produces a deterministic string form of a Bag so that
// structurally-equal pattern_data maps hash to the same identity key
// regardless of Go map iteration order.
func canonicalize(b bag.Bag) string {
	out, _ := json.Marshal(canonicalizeValue(b))
	return string(out)
}

func canonicalizeValue(v any) any {
	switch t := v.(type) {
	case bag.Bag:
		return canonicalizeMap(map[string]any(t))
	case map[string]any:
		return canonicalizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = canonicalizeValue(vv)
		}
		return out
	default:
		return v
	}
}

// canonicalizeMap returns an ordered slice of [key, value] pairs so
// json.Marshal produces byte-identical output for maps with identical
// contents regardless of insertion order.
func canonicalizeMap(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, []any{k, canonicalizeValue(m[k])})
	}
	return out
}
