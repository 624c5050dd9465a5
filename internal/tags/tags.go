// Package tags normalizes and merges note tag sets.
package tags

import "strings"

// Normalize lowercases and trims a tag. Empty results should be discarded.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Merge combines tag lists into a single normalized, de-duplicated set,
// preserving first-seen order.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	merged := make([]string, 0)
	for _, list := range lists {
		for _, tag := range list {
			normalized := Normalize(tag)
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			merged = append(merged, normalized)
		}
	}
	return merged
}
