package peer

import (
	"encoding/binary"

	"github.com/reliacast/mbus/pkg/wire"
	"lukechampine.com/blake3"
)

// Fingerprint is a fixed-size map key derived from a peer's source address
// string and session ID, used instead of the bare (address, session) pair
// as the peer-state map key. The address string is hashed as given, so two
// spellings of the same address yield different Fingerprints.
type Fingerprint [32]byte

// NewFingerprint derives a Fingerprint from the UDP source address a
// packet arrived on and the SessionID carried in its header. Peers that
// restart get a fresh SessionID and therefore a fresh Fingerprint, which
// is what causes BusCore to treat them as a new session rather than a
// continuation (§5.3).
func NewFingerprint(addr string, session wire.SessionID) Fingerprint {
	var sessionBytes [2]byte
	binary.BigEndian.PutUint16(sessionBytes[:], uint16(session))

	h := blake3.New(32, nil)
	h.Write([]byte(addr))
	h.Write(sessionBytes[:])
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
