package domain

import "strings"

// NormalizeKeywords trims and lowercases keywords, drops empty entries and
// removes duplicates while keeping first-seen order.
func NormalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// MatchKeyword returns the first keyword contained in text, compared
// case-insensitively. Containment is plain substring, so "view" matches
// "VIEWTHIS".
func MatchKeyword(keywords []string, text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if strings.Contains(lowered, k) {
			return k, true
		}
	}
	return "", false
}
