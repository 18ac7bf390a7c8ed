// Package wire implements the fixed binary packet framing described in
// §4.3: a 16-byte common header shared by every packet kind, followed by
// a kind-specific body. All integers are big-endian.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/reliacast/mbus/pkg/constants"
)

// PeerID identifies a publishing peer, unique within a bus instance's
// multicast group for the lifetime of a session.
type PeerID uint32

// SessionID distinguishes successive Opens by the same PeerID; a peer that
// restarts gets a new SessionID and resets its sequence space (§5).
type SessionID uint16

// Sequence is a per-(PeerID, SessionID) monotonically increasing packet
// counter starting at 1 (§4.2).
type Sequence uint32

// Header is the common 16-byte prefix of every packet.
type Header struct {
	Kind      uint8
	Flags     uint16
	PeerID    PeerID
	SessionID SessionID
	Sequence  Sequence
}

// Range is an inclusive [Start, End] span of missing sequence numbers
// requested by a NAK.
type Range struct {
	Start Sequence
	End   Sequence
}

// DataPacket carries one published message (§4.3).
type DataPacket struct {
	Header
	Topic   string
	Payload []byte
}

// NAKPacket requests retransmission of one or more sequence ranges from a
// specific (PeerID, SessionID) (§4.3, §6).
type NAKPacket struct {
	Header
	TargetPeerID    PeerID
	TargetSessionID SessionID
	Ranges          []Range
}

// HeartbeatPacket carries no body; it exists only to advertise the
// sender's current sequence number so idle tails can be gap-detected
// (§4.3, §6).
type HeartbeatPacket struct {
	Header
}

func putHeader(b []byte, h Header) {
	binary.BigEndian.PutUint16(b[0:2], constants.Magic)
	b[2] = constants.ProtocolVersion
	b[3] = h.Kind
	binary.BigEndian.PutUint16(b[4:6], h.Flags)
	binary.BigEndian.PutUint32(b[6:10], uint32(h.PeerID))
	binary.BigEndian.PutUint16(b[10:12], uint16(h.SessionID))
	binary.BigEndian.PutUint32(b[12:16], uint32(h.Sequence))
}

func getHeader(b []byte) (Header, error) {
	if len(b) < constants.HeaderSize {
		return Header{}, NewError(ErrCodeTruncated, fmt.Sprintf("header needs %d bytes, got %d", constants.HeaderSize, len(b)))
	}
	if magic := binary.BigEndian.Uint16(b[0:2]); magic != constants.Magic {
		return Header{}, NewError(ErrCodeBadMagic, fmt.Sprintf("got %#x, want %#x", magic, constants.Magic))
	}
	if version := b[2]; version != constants.ProtocolVersion {
		return Header{}, NewError(ErrCodeBadVersion, fmt.Sprintf("got %d, want %d", version, constants.ProtocolVersion))
	}
	return Header{
		Kind:      b[3],
		Flags:     binary.BigEndian.Uint16(b[4:6]),
		PeerID:    PeerID(binary.BigEndian.Uint32(b[6:10])),
		SessionID: SessionID(binary.BigEndian.Uint16(b[10:12])),
		Sequence:  Sequence(binary.BigEndian.Uint32(b[12:16])),
	}, nil
}

// Encrypted reports whether the DATA payload is Blowfish-ECB ciphertext
// (§4.1, §4.3).
func (h Header) Encrypted() bool {
	return h.Flags&constants.FlagEncrypted != 0
}

// Marshal encodes d to its wire representation: header, 2-byte topic
// length, topic bytes, 4-byte payload length, payload bytes (§4.3).
func (d *DataPacket) Marshal() ([]byte, error) {
	if len(d.Topic) == 0 || len(d.Topic) > constants.MaxTopicLength {
		return nil, NewError(ErrCodeBadTopicLength, fmt.Sprintf("length %d out of range 1..%d", len(d.Topic), constants.MaxTopicLength))
	}
	if uint64(len(d.Payload)) > 0xFFFFFFFF {
		return nil, NewError(ErrCodeTruncated, fmt.Sprintf("payload length %d exceeds %d", len(d.Payload), uint32(0xFFFFFFFF)))
	}

	d.Kind = constants.KindData
	out := make([]byte, constants.HeaderSize+2+len(d.Topic)+4+len(d.Payload))
	putHeader(out, d.Header)

	off := constants.HeaderSize
	binary.BigEndian.PutUint16(out[off:off+2], uint16(len(d.Topic)))
	off += 2
	off += copy(out[off:], d.Topic)
	binary.BigEndian.PutUint32(out[off:off+4], uint32(len(d.Payload)))
	off += 4
	copy(out[off:], d.Payload)

	return out, nil
}

// UnmarshalData decodes a DATA packet body following the common header.
// h is the already-decoded header; body is everything after it.
func UnmarshalData(h Header, body []byte) (*DataPacket, error) {
	if len(body) < 2 {
		return nil, NewError(ErrCodeTruncated, "missing topic length")
	}
	topicLen := int(binary.BigEndian.Uint16(body[0:2]))
	if topicLen == 0 || topicLen > constants.MaxTopicLength {
		return nil, NewError(ErrCodeBadTopicLength, fmt.Sprintf("length %d out of range 1..%d", topicLen, constants.MaxTopicLength))
	}
	off := 2
	if len(body) < off+topicLen+4 {
		return nil, NewError(ErrCodeTruncated, "body shorter than topic+payload-length")
	}
	topicStr := string(body[off : off+topicLen])
	off += topicLen

	payloadLen := int(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	if len(body) != off+payloadLen {
		return nil, NewError(ErrCodeTruncated, fmt.Sprintf("declared payload length %d does not match remaining %d bytes", payloadLen, len(body)-off))
	}

	payload := make([]byte, payloadLen)
	copy(payload, body[off:])

	return &DataPacket{Header: h, Topic: topicStr, Payload: payload}, nil
}

// Marshal encodes n to its wire representation: header, target peer/session,
// 2-byte range count, then each range as two 4-byte sequence numbers.
func (n *NAKPacket) Marshal() ([]byte, error) {
	if len(n.Ranges) > 0xFFFF {
		return nil, NewError(ErrCodeBadRangeCount, fmt.Sprintf("%d ranges exceeds 65535", len(n.Ranges)))
	}

	n.Kind = constants.KindNAK
	out := make([]byte, constants.HeaderSize+4+2+2+8*len(n.Ranges))
	putHeader(out, n.Header)

	off := constants.HeaderSize
	binary.BigEndian.PutUint32(out[off:off+4], uint32(n.TargetPeerID))
	off += 4
	binary.BigEndian.PutUint16(out[off:off+2], uint16(n.TargetSessionID))
	off += 2
	binary.BigEndian.PutUint16(out[off:off+2], uint16(len(n.Ranges)))
	off += 2
	for _, r := range n.Ranges {
		binary.BigEndian.PutUint32(out[off:off+4], uint32(r.Start))
		off += 4
		binary.BigEndian.PutUint32(out[off:off+4], uint32(r.End))
		off += 4
	}

	return out, nil
}

// UnmarshalNAK decodes a NAK packet body following the common header.
func UnmarshalNAK(h Header, body []byte) (*NAKPacket, error) {
	const fixed = 4 + 2 + 2
	if len(body) < fixed {
		return nil, NewError(ErrCodeTruncated, "NAK body shorter than fixed fields")
	}

	off := 0
	targetPeerID := PeerID(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	targetSessionID := SessionID(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	rangeCount := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2

	if len(body) != off+8*rangeCount {
		return nil, NewError(ErrCodeBadRangeCount, fmt.Sprintf("declared %d ranges does not match remaining %d bytes", rangeCount, len(body)-off))
	}

	ranges := make([]Range, rangeCount)
	for i := range ranges {
		ranges[i].Start = Sequence(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
		ranges[i].End = Sequence(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
	}

	return &NAKPacket{
		Header:          h,
		TargetPeerID:    targetPeerID,
		TargetSessionID: targetSessionID,
		Ranges:          ranges,
	}, nil
}

// Marshal encodes h to its wire representation: the common header alone.
func (h *HeartbeatPacket) Marshal() []byte {
	h.Kind = constants.KindHeartbeat
	out := make([]byte, constants.HeaderSize)
	putHeader(out, h.Header)
	return out
}

// Decode parses a full packet (header and body) from b, dispatching on
// Header.Kind. It returns one of *DataPacket, *NAKPacket or
// *HeartbeatPacket, or a *wire.Error if b is malformed.
func Decode(b []byte) (interface{}, error) {
	h, err := getHeader(b)
	if err != nil {
		return nil, err
	}
	body := b[constants.HeaderSize:]

	switch h.Kind {
	case constants.KindData:
		return UnmarshalData(h, body)
	case constants.KindNAK:
		return UnmarshalNAK(h, body)
	case constants.KindHeartbeat:
		if len(body) != 0 {
			return nil, NewError(ErrCodeTruncated, fmt.Sprintf("heartbeat body must be empty, got %d bytes", len(body)))
		}
		return &HeartbeatPacket{Header: h}, nil
	default:
		return nil, NewError(ErrCodeUnknownKind, fmt.Sprintf("kind %d", h.Kind))
	}
}
