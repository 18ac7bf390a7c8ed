package peer

import (
	"sort"
	"time"

	"github.com/reliacast/mbus/pkg/constants"
	"github.com/reliacast/mbus/pkg/wire"
)

// MaxReorderWindow bounds how far ahead of the next expected sequence a
// packet may arrive and still be buffered for reordering. A packet further
// ahead is treated as a session reset: buffered packets and gaps are
// discarded and delivery resumes just past that packet.
const MaxReorderWindow = 4096

// Outcome classifies what a single Receive call did to the tracker's
// state, for metrics and logging.
type Outcome int

const (
	// InOrder is the next expected sequence, delivered immediately.
	InOrder Outcome = iota
	// Duplicate was already delivered or already buffered.
	Duplicate
	// FillsGap fills a sequence this tracker had flagged missing.
	FillsGap
	// Future arrives ahead of what can be delivered yet and opens one or
	// more new gaps.
	Future
	// OutOfWindow arrived too far ahead of the reorder window to buffer.
	OutOfWindow
)

// gapState tracks one missing sequence number's NAK schedule.
type gapState struct {
	firstMissed time.Time
	nextNAK     time.Time
	backoff     time.Duration
	attempts    int
}

// Tracker holds per-(peer, session) reception state: the next
// deliverable sequence, packets buffered ahead of it pending reorder, and
// sequences known missing along with their NAK backoff schedule.
//
// A Tracker is intended to be driven exclusively by a single goroutine
// (BusCore's receive loop); it holds no internal lock.
type Tracker struct {
	PeerID    wire.PeerID
	SessionID wire.SessionID

	expected  wire.Sequence
	started   bool
	pending   map[wire.Sequence]*wire.DataPacket
	gaps      map[wire.Sequence]*gapState
	lastHeard time.Time
}

// NewTracker returns a Tracker for the given peer and session, with no
// sequence yet observed.
func NewTracker(peerID wire.PeerID, sessionID wire.SessionID) *Tracker {
	return &Tracker{
		PeerID:    peerID,
		SessionID: sessionID,
		pending:   make(map[wire.Sequence]*wire.DataPacket),
		gaps:      make(map[wire.Sequence]*gapState),
	}
}

// LastHeard returns the time of the most recent Receive or heartbeat
// observed for this peer.
func (t *Tracker) LastHeard() time.Time { return t.lastHeard }

// Touch records that a packet (of any kind) was just heard from this
// peer, for idle-timeout purposes (§6).
func (t *Tracker) Touch(now time.Time) { t.lastHeard = now }

// Receive folds a newly-arrived DATA packet into the tracker's state. It
// returns, in sequence order, every packet that is now deliverable
// (possibly draining a run of previously-buffered packets), and an
// Outcome describing what this particular packet did.
func (t *Tracker) Receive(pkt *wire.DataPacket, now time.Time) ([]*wire.DataPacket, Outcome) {
	t.Touch(now)
	seq := pkt.Sequence

	if !t.started {
		// A session's sequence space starts at 1, so a first packet that
		// arrives ahead of it is buffered behind a gap like any other.
		t.started = true
		t.expected = 1
	}

	if less(seq, t.expected) {
		return nil, Duplicate
	}

	if seq == t.expected {
		wasGap := t.clearGap(seq)
		delivered := []*wire.DataPacket{pkt}
		t.expected++
		delivered = append(delivered, t.drainPending()...)
		if wasGap {
			return delivered, FillsGap
		}
		return delivered, InOrder
	}

	if _, buffered := t.pending[seq]; buffered {
		return nil, Duplicate
	}

	if distance(seq, t.expected) > MaxReorderWindow {
		// A forward jump this far ahead of what we're tracking can no
		// longer be reconciled with the existing gap/pending state (§4.4):
		// treat it as a session reset, discarding whatever was buffered
		// and resuming delivery from just past this packet.
		for s := range t.gaps {
			delete(t.gaps, s)
		}
		for s := range t.pending {
			delete(t.pending, s)
		}
		t.expected = seq + 1
		return []*wire.DataPacket{pkt}, OutOfWindow
	}

	wasGap := t.clearGap(seq)
	t.pending[seq] = pkt
	t.openGaps(t.expected, seq, now)

	if wasGap {
		return nil, FillsGap
	}
	return nil, Future
}

// ObserveHeartbeat folds a HEARTBEAT packet's sequence into the tracker's
// gap state without delivering anything: it reveals a gap between the
// last deliverable sequence and the heartbeat's, which is how a lost tail
// of DATA packets is detected once no more DATA is coming (§6).
func (t *Tracker) ObserveHeartbeat(seq wire.Sequence, now time.Time) {
	t.Touch(now)
	if !t.started {
		t.started = true
		t.expected = seq
		return
	}
	if less(seq, t.expected) {
		return
	}
	t.openGaps(t.expected, seq, now)
}

func (t *Tracker) clearGap(seq wire.Sequence) bool {
	if _, ok := t.gaps[seq]; ok {
		delete(t.gaps, seq)
		return true
	}
	return false
}

// openGaps marks every sequence in [from, to) not already pending or
// tracked as missing.
func (t *Tracker) openGaps(from, to wire.Sequence, now time.Time) {
	for s := from; s != to; s++ {
		if _, ok := t.pending[s]; ok {
			continue
		}
		if _, ok := t.gaps[s]; ok {
			continue
		}
		t.gaps[s] = &gapState{
			firstMissed: now,
			nextNAK:     now.Add(constants.DefaultNAKInitialDelay),
			backoff:     constants.DefaultNAKBackoffBase,
		}
	}
}

func (t *Tracker) drainPending() []*wire.DataPacket {
	var out []*wire.DataPacket
	for {
		p, ok := t.pending[t.expected]
		if !ok {
			break
		}
		delete(t.pending, t.expected)
		out = append(out, p)
		t.expected++
	}
	return out
}

// LossEvent reports that a gap's retransmit deadline elapsed without the
// packet arriving; it is permanently unrecoverable and the caller should
// surface it to the application and stop tracking it.
type LossEvent struct {
	PeerID    wire.PeerID
	SessionID wire.SessionID
	Sequence  wire.Sequence
}

// DueNAKs scans the gap set for entries whose backoff has elapsed,
// returning the sequences to request in one coalesced NAK and advancing
// each entry's backoff (capped at DefaultNAKBackoffCap). Gaps whose age
// exceeds DefaultNAKDeadline are instead reported as losses and dropped
// from tracking; per §4.4, once a gap at the head of the sequence space
// (equal to expected) is declared lost, expected advances past it and any
// contiguous run now unblocked in pending is released, in order, as the
// third return value.
func (t *Tracker) DueNAKs(now time.Time) ([]wire.Sequence, []LossEvent, []*wire.DataPacket) {
	var due []wire.Sequence
	var expired []wire.Sequence

	for seq, g := range t.gaps {
		if now.Sub(g.firstMissed) >= constants.DefaultNAKDeadline {
			expired = append(expired, seq)
			continue
		}
		if now.Before(g.nextNAK) {
			continue
		}
		due = append(due, seq)
		g.attempts++
		g.backoff *= 2
		if g.backoff > constants.DefaultNAKBackoffCap {
			g.backoff = constants.DefaultNAKBackoffCap
		}
		g.nextNAK = now.Add(g.backoff)
	}

	if len(expired) == 0 {
		return due, nil, nil
	}

	sort.Slice(expired, func(i, j int) bool { return less(expired[i], expired[j]) })

	var losses []LossEvent
	var released []*wire.DataPacket
	for _, seq := range expired {
		delete(t.gaps, seq)
		losses = append(losses, LossEvent{PeerID: t.PeerID, SessionID: t.SessionID, Sequence: seq})
		if seq == t.expected {
			t.expected++
			released = append(released, t.drainPending()...)
		}
	}

	return due, losses, released
}

// PendingGaps reports how many sequences are currently believed missing.
func (t *Tracker) PendingGaps() int { return len(t.gaps) }
