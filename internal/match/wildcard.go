package match

import "strings"

// Pattern is a compiled '*' wildcard matcher for backup item paths.
// Params: internal split segments and anchor flags.
// Returns: reusable matcher for many Match calls.
type Pattern struct {
	segments      []string
	anchoredStart bool
	anchoredEnd   bool
	matchAll      bool
}

// Compile compiles pattern into a reusable wildcard matcher.
// Params: pattern may contain '*' wildcards.
// Returns: compiled matcher and false when pattern is empty.
func Compile(pattern string) (Pattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return Pattern{}, false
	}
	if p == "*" {
		return Pattern{matchAll: true}, true
	}

	return Pattern{
		segments:      strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
	}, true
}

// CompileList compiles non-empty patterns, silently skipping blanks.
// Params: patterns raw pattern list from config.
// Returns: compiled matcher list.
func CompileList(patterns []string) []Pattern {
	out := make([]Pattern, 0, len(patterns))
	for _, raw := range patterns {
		if compiled, ok := Compile(raw); ok {
			out = append(out, compiled)
		}
	}
	return out
}

// Match evaluates the compiled pattern against value.
// Params: value is compared text.
// Returns: true on pattern match.
func (p Pattern) Match(value string) bool {
	if p.matchAll {
		return true
	}
	if len(p.segments) == 0 {
		return false
	}

	cursor := 0
	index := 0

	if p.anchoredStart {
		first := p.segments[0]
		if !strings.HasPrefix(value, first) {
			return false
		}
		cursor = len(first)
		index = 1
	}

	last := len(p.segments) - 1
	limit := len(p.segments)
	if p.anchoredEnd {
		limit = last
	}

	for ; index < limit; index++ {
		segment := p.segments[index]
		if segment == "" {
			continue
		}
		offset := strings.Index(value[cursor:], segment)
		if offset < 0 {
			return false
		}
		cursor += offset + len(segment)
	}

	if p.anchoredEnd {
		tail := p.segments[last]
		if tail == "" {
			return true
		}
		return strings.HasSuffix(value, tail)
	}

	return true
}

// Any reports whether value matches at least one compiled pattern.
// Params: patterns compiled matcher list; value is compared text.
// Returns: true when any pattern matches.
func Any(patterns []Pattern, value string) bool {
	for _, pattern := range patterns {
		if pattern.Match(value) {
			return true
		}
	}
	return false
}
