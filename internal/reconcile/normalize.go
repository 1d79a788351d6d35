package reconcile

import (
	"regexp"
	"sort"
	"strings"
)

// The two sources spell equipment and medication notes differently:
// "first time lasix" against "L1", "blinkers added" against "Blinkers On".
// Both sides are rewritten to canonical tokens before comparison so spelling
// variation never surfaces as a discrepancy.
var equipmentPatterns = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`(?i)first[- ]?time\s+lasix|first[- ]?time\s+L\b|\bL1\b|\blasix\b`), "L1"},
	{regexp.MustCompile(`(?i)blinkers?\s+(?:on|added)`), "Blinkers On"},
	{regexp.MustCompile(`(?i)blinkers?\s+(?:off|removed)`), "Blinkers Off"},
	{regexp.MustCompile(`(?i)tongue[- ]?tie\s+on`), "Tongue Tie On"},
	{regexp.MustCompile(`(?i)tongue[- ]?tie\s+off`), "Tongue Tie Off"},
	{regexp.MustCompile(`(?i)visor\s+on`), "Visor On"},
	{regexp.MustCompile(`(?i)visor\s+off`), "Visor Off"},
	{regexp.MustCompile(`(?i)shadow[- ]?roll\s+on`), "Shadow Roll On"},
	{regexp.MustCompile(`(?i)shadow[- ]?roll\s+off`), "Shadow Roll Off"},
}

var equipmentSeparators = regexp.MustCompile(`\s*[,;]+\s*`)

// NormalizeEquipment rewrites an equipment or medication note into its
// canonical token form. Tokens are sorted so "Blinkers On, L1" and
// "L1; blinkers added" normalize identically regardless of listing order.
func NormalizeEquipment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, p := range equipmentPatterns {
		s = p.re.ReplaceAllString(s, p.token)
	}
	parts := equipmentSeparators.Split(s, -1)
	tokens := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		token := strings.Join(strings.Fields(part), " ")
		if token == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(token)]; dup {
			continue
		}
		seen[strings.ToLower(token)] = struct{}{}
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToLower(tokens[i]) < strings.ToLower(tokens[j])
	})
	return strings.Join(tokens, ", ")
}
