package peer

import "github.com/reliacast/mbus/pkg/wire"

// RetransmitRing is a fixed-size, sender-side history of recently
// published DATA packets, indexed by sequence modulo the ring size, used
// to answer NAKs without re-publishing through the application (§6).
// Once a sequence falls out of the ring it can no longer be retransmitted;
// the asker's gap then expires into an unrecoverable-loss event.
type RetransmitRing struct {
	raw []*wire.DataPacket
}

// NewRetransmitRing returns a ring that holds the last size published
// packets.
func NewRetransmitRing(size int) *RetransmitRing {
	return &RetransmitRing{raw: make([]*wire.DataPacket, size)}
}

// Store records pkt at its sequence's ring slot, overwriting whatever
// packet previously occupied it.
func (r *RetransmitRing) Store(pkt *wire.DataPacket) {
	r.raw[int(pkt.Sequence)%len(r.raw)] = pkt
}

// Get returns the packet stored for seq, or ok=false if that slot is
// empty or now holds a different sequence (it has been overwritten by a
// more recent packet, i.e. the requested one fell out of the window).
func (r *RetransmitRing) Get(seq wire.Sequence) (pkt *wire.DataPacket, ok bool) {
	p := r.raw[int(seq)%len(r.raw)]
	if p == nil || p.Sequence != seq {
		return nil, false
	}
	return p, true
}
