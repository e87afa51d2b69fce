// Package matcher implements keyword normalization and message matching.
package matcher

import "strings"

// NormalizeKeywords trims entries, drops empty ones and deduplicates
// case-insensitively, keeping the first-seen casing and original order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	normalized := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		cleaned := strings.TrimSpace(keyword)
		if cleaned == "" {
			continue
		}
		lowered := strings.ToLower(cleaned)
		if _, ok := seen[lowered]; ok {
			continue
		}
		seen[lowered] = struct{}{}
		normalized = append(normalized, cleaned)
	}
	return normalized
}

// MatchMessage performs a case-insensitive substring search against each
// keyword in list order and returns the first keyword that matches.
// Empty text never matches.
func MatchMessage(text string, keywords []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, keyword := range keywords {
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			return keyword, true
		}
	}
	return "", false
}
