package topic

import "strings"

// Filter is a parsed subscription pattern: a sequence of literal segments
// interspersed with "*" (single-segment) and ">" (trailing, zero-or-more)
// wildcards.
type Filter struct {
	pattern  string
	segments []string
}

// NewFilter parses pattern into a Filter, validating it with the same
// length and wildcard-placement rules as a plain topic (Segments).
func NewFilter(pattern string) (*Filter, error) {
	segs, err := Segments(pattern, true)
	if err != nil {
		return nil, err
	}
	return &Filter{pattern: pattern, segments: segs}, nil
}

// Matches reports whether topic satisfies the filter. topic is assumed to
// already be a valid concrete topic (see Validate); Matches does not
// itself reject malformed topics, it simply compares segments.
//
// A ">" segment matches the remainder of the topic, including no segments
// at all, so "a.>" matches both "a" and "a.b.c".
func (f *Filter) Matches(topic string) bool {
	topicSegs := strings.Split(topic, Separator)

	i := 0
	for i < len(f.segments) {
		seg := f.segments[i]
		if seg == TrailingWildcard {
			return true
		}
		if i >= len(topicSegs) {
			return false
		}
		if seg != SingleWildcard && seg != topicSegs[i] {
			return false
		}
		i++
	}
	return i == len(topicSegs)
}

// String returns the canonical dotted representation of the filter, which
// round-trips through NewFilter.
func (f *Filter) String() string {
	return strings.Join(f.segments, Separator)
}
