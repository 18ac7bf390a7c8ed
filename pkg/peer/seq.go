// Package peer tracks reception state for remote publishers: gap detection
// across a per-(peer, session) sequence space, NAK scheduling with
// exponential backoff, and out-of-order redelivery, plus the sender-side
// retransmit ring used to answer NAKs (§5, §6).
package peer

import "github.com/reliacast/mbus/pkg/wire"

// less reports whether a comes strictly before b in sequence order,
// tolerating uint32 wraparound by comparing the signed difference — the
// same half-window trick TCP uses for its 32-bit sequence numbers.
func less(a, b wire.Sequence) bool {
	return int32(a-b) < 0
}

// distance returns how far ahead a is of b, or 0 if a is not ahead.
func distance(a, b wire.Sequence) uint32 {
	if less(a, b) || a == b {
		return 0
	}
	return uint32(a - b)
}
