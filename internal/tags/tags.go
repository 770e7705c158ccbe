// Package tags is the single place tag encodings are normalized. Stored
// tag fields arrive as an empty value, a comma-separated string, or a
// JSON array of strings depending on which writer produced them; every
// reader goes through Parse so the three encodings stay interchangeable.
package tags

import (
	"encoding/json"
	"strings"
)

// Parse canonicalizes a raw tag field into trimmed, non-empty strings.
func Parse(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return Canon(arr)
		}
		// fall through: malformed JSON is treated as a plain CSV value
	}
	return Canon(strings.Split(raw, ","))
}

// Canon trims each element and drops empties, preserving order.
func Canon(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Encode renders a canonical set back to its stored form (JSON array).
func Encode(in []string) string {
	in = Canon(in)
	if len(in) == 0 {
		return ""
	}
	b, _ := json.Marshal(in)
	return string(b)
}

// Referenced collects every tag name that appears in the given raw
// entity tag fields. Each field goes through Parse, so membership is
// decided on whole elements; "prod" is not referenced by a field that
// only carries "production".
func Referenced(raws []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range raws {
		for _, t := range Parse(raw) {
			out[t] = true
		}
	}
	return out
}

// HasAny reports whether have and want share at least one tag.
func HasAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
