// Package topic implements the dotted hierarchical topic names and filters
// used to route DATA packets (§3). A topic is a non-empty, dot-separated
// sequence of segments; a filter is a topic pattern that may additionally
// use "*" to match exactly one segment and ">" to match zero or more
// trailing segments.
//
// Segmentation and matching follow the SegmentFilter collaborator of the
// original mbus: segments are parsed strictly (length limits, wildcard
// segments must stand alone) and matched position by position.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTopic is returned when a topic or filter string violates the
// length or wildcard-placement rules in §3.
var ErrMalformedTopic = errors.New("topic: malformed")

const (
	// MaxLength is the maximum length, in bytes, of an entire topic or
	// filter string.
	MaxLength = 250

	// MaxSegmentLength is the maximum length, in bytes, of a single segment.
	MaxSegmentLength = 128

	// Separator divides topic segments.
	Separator = "."

	// SingleWildcard matches exactly one segment, only valid in filters.
	SingleWildcard = "*"

	// TrailingWildcard matches zero or more trailing segments, only valid
	// as the last segment of a filter.
	TrailingWildcard = ">"
)

// Segments splits s on Separator and validates it against the length and
// wildcard-placement rules shared by plain topics and filters. allowWild
// controls whether "*" and ">" segments are accepted.
func Segments(s string, allowWild bool) ([]string, error) {
	if len(s) == 0 || len(s) > MaxLength {
		return nil, fmt.Errorf("%w: length %d out of range 1..%d", ErrMalformedTopic, len(s), MaxLength)
	}

	parts := strings.Split(s, Separator)
	for i, seg := range parts {
		if len(seg) == 0 || len(seg) > MaxSegmentLength {
			return nil, fmt.Errorf("%w: segment %d length %d out of range 1..%d", ErrMalformedTopic, i, len(seg), MaxSegmentLength)
		}
		if seg == SingleWildcard || seg == TrailingWildcard {
			if !allowWild {
				return nil, fmt.Errorf("%w: wildcard segment %q not allowed in a plain topic", ErrMalformedTopic, seg)
			}
			if seg == TrailingWildcard && i != len(parts)-1 {
				return nil, fmt.Errorf("%w: %q wildcard must be the last segment", ErrMalformedTopic, TrailingWildcard)
			}
			continue
		}
		if strings.ContainsAny(seg, SingleWildcard+TrailingWildcard) {
			return nil, fmt.Errorf("%w: segment %q mixes wildcard characters with literal text", ErrMalformedTopic, seg)
		}
	}
	return parts, nil
}

// Validate reports whether s is a well-formed concrete topic: no wildcard
// segments, within the length limits of §3.
func Validate(s string) error {
	_, err := Segments(s, false)
	return err
}
