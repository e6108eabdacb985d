// Package strings provides slice helpers for normalizing string lists.
package strings

import "strings"

// DedupeAndTrim returns values with surrounding whitespace removed, empty
// entries dropped, and later duplicates discarded. First-occurrence order is
// kept, so deduplicating an ordered list stays deterministic.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
