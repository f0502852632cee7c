package rules

import "strings"

// AllowRule is a durable policy entry permitting automatic approval of a
// class of tool invocations. An empty Pattern grants the whole tool; a
// pattern like "git *" grants commands whose leading token is "git".
type AllowRule struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern,omitempty"`
	Label   string `json:"label"`
}

// Key identifies a rule; rules are unique by (tool, pattern).
func (r AllowRule) Key() string {
	return r.Tool + "\x00" + r.Pattern
}

// MatchPattern reports whether input satisfies pattern. A pattern of the
// form "<word> *" matches input equal to <word> or starting with
// "<word> "; any other pattern requires an exact match.
func MatchPattern(pattern, input string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(pattern, " *"); ok {
		return input == prefix || strings.HasPrefix(input, prefix+" ")
	}
	return input == pattern
}
