package wire

import (
	"bytes"
	"testing"

	"github.com/reliacast/mbus/pkg/constants"
)

func TestDataPacketRoundTrip(t *testing.T) {
	d := &DataPacket{
		Header: Header{
			Flags:     constants.FlagEncrypted,
			PeerID:    42,
			SessionID: 7,
			Sequence:  100,
		},
		Topic:   "orders.created",
		Payload: []byte("hello world"),
	}

	raw, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*DataPacket)
	if !ok {
		t.Fatalf("Decode returned %T, want *DataPacket", decoded)
	}
	if got.PeerID != d.PeerID || got.SessionID != d.SessionID || got.Sequence != d.Sequence {
		t.Errorf("header mismatch: got %+v, want %+v", got.Header, d.Header)
	}
	if !got.Encrypted() {
		t.Errorf("Encrypted() = false, want true")
	}
	if got.Topic != d.Topic {
		t.Errorf("Topic = %q, want %q", got.Topic, d.Topic)
	}
	if !bytes.Equal(got.Payload, d.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, d.Payload)
	}
}

func TestDataPacketRejectsOversizeTopic(t *testing.T) {
	d := &DataPacket{Topic: string(make([]byte, constants.MaxTopicLength+1)), Payload: []byte("x")}
	if _, err := d.Marshal(); err == nil {
		t.Fatal("Marshal with oversize topic: want error, got nil")
	}
}

func TestNAKPacketRoundTrip(t *testing.T) {
	n := &NAKPacket{
		Header: Header{
			PeerID:    1,
			SessionID: 2,
			Sequence:  3,
		},
		TargetPeerID:    9,
		TargetSessionID: 4,
		Ranges: []Range{
			{Start: 5, End: 5},
			{Start: 10, End: 15},
		},
	}

	raw, err := n.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*NAKPacket)
	if !ok {
		t.Fatalf("Decode returned %T, want *NAKPacket", decoded)
	}
	if got.TargetPeerID != n.TargetPeerID || got.TargetSessionID != n.TargetSessionID {
		t.Errorf("target mismatch: got peer=%d session=%d", got.TargetPeerID, got.TargetSessionID)
	}
	if len(got.Ranges) != len(n.Ranges) || got.Ranges[0] != n.Ranges[0] || got.Ranges[1] != n.Ranges[1] {
		t.Errorf("Ranges = %+v, want %+v", got.Ranges, n.Ranges)
	}
}

func TestHeartbeatPacketRoundTrip(t *testing.T) {
	h := &HeartbeatPacket{Header: Header{PeerID: 11, SessionID: 1, Sequence: 200}}
	raw := h.Marshal()

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*HeartbeatPacket)
	if !ok {
		t.Fatalf("Decode returned %T, want *HeartbeatPacket", decoded)
	}
	if got.Sequence != h.Sequence {
		t.Errorf("Sequence = %d, want %d", got.Sequence, h.Sequence)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := (&HeartbeatPacket{}).Marshal()
	raw[0] ^= 0xFF
	if _, err := Decode(raw); err == nil {
		t.Fatal("Decode with corrupted magic: want error, got nil")
	} else if wireErr, ok := err.(*Error); !ok || wireErr.Code != ErrCodeBadMagic {
		t.Errorf("error = %v, want ErrCodeBadMagic", err)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw := (&HeartbeatPacket{}).Marshal()
	raw[3] = 0xEE
	if _, err := Decode(raw); err == nil {
		t.Fatal("Decode with unknown kind: want error, got nil")
	} else if wireErr, ok := err.(*Error); !ok || wireErr.Code != ErrCodeUnknownKind {
		t.Errorf("error = %v, want ErrCodeUnknownKind", err)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 2}); err == nil {
		t.Fatal("Decode with truncated header: want error, got nil")
	}
}

func TestDecodeRejectsTruncatedDataBody(t *testing.T) {
	d := &DataPacket{Topic: "a.b", Payload: []byte("payload")}
	raw, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	truncated := raw[:len(raw)-3]
	if _, err := Decode(truncated); err == nil {
		t.Fatal("Decode with truncated DATA body: want error, got nil")
	}
}

func TestDecodeRejectsMismatchedNAKRangeCount(t *testing.T) {
	n := &NAKPacket{Ranges: []Range{{Start: 1, End: 2}}}
	raw, err := n.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	truncated := raw[:len(raw)-4]
	if _, err := Decode(truncated); err == nil {
		t.Fatal("Decode with truncated NAK ranges: want error, got nil")
	}
}
