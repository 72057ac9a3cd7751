// Package tags normalizes free-text tag input into canonical tag names.
package tags

import "strings"

// Normalize splits a raw comma-separated tag string into canonical names:
// each segment is whitespace-trimmed, empty segments are dropped, and
// duplicates (case-sensitive) are collapsed to their first occurrence.
// Normalize never fails; malformed segments simply vanish.
func Normalize(raw string) []string {
	segments := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(segments))
	names := make([]string, 0, len(segments))
	for _, segment := range segments {
		name := strings.TrimSpace(segment)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
