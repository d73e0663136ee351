package demand

import (
	"regexp"
	"strings"
)

// bootstrapSentinel matches a queue item whose why names no label at
// all, the only path that creates capacity from a cold, executor-less
// master (spec.md §4.4 step 2).
var bootstrapSentinel = regexp.MustCompile(`^Waiting for next available executor$`)

// reasonPatterns is the fixed, ordered list of queue "why" matchers.
// The first pattern to capture a label token wins; order matters
// because some phrasings are substrings of others.
var reasonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`no nodes with the label [‘’']?(?P<label>[^\s;\\'‘’]*)[‘’']?`),
	regexp.MustCompile(`All nodes of label [‘’']?(?P<label>[^\s;\\'‘’]*)[‘’']? are offline`),
	regexp.MustCompile(`doesn't have label (?P<label>[^\s;\\'‘’]*)`),
	regexp.MustCompile(`Waiting for next available executor on (?P<label>[^\s;\\'‘’]*)`),
	regexp.MustCompile(`(?P<label>[^\s;\\'‘’]*) is offline`),
}

// extractLabel returns the label token captured from why by the first
// matching pattern, with wrapping straight and curly quotes stripped,
// and ok=false if no pattern matched.
func extractLabel(why string) (string, bool) {
	for _, re := range reasonPatterns {
		m := re.FindStringSubmatch(why)
		if m == nil {
			continue
		}
		idx := re.SubexpIndex("label")
		if idx < 0 || idx >= len(m) {
			continue
		}
		token := stripQuotes(m[idx])
		if token == "" {
			continue
		}
		return token, true
	}
	return "", false
}

func stripQuotes(s string) string {
	return strings.Trim(s, "'‘’")
}

// isBootstrapSentinel reports whether why is exactly the executor-less
// sentinel, carrying no label token of its own.
func isBootstrapSentinel(why string) bool {
	return bootstrapSentinel.MatchString(strings.TrimSpace(why))
}
