package bus

import (
	"net"
	"sort"

	"github.com/reliacast/mbus/pkg/peer"
	"github.com/reliacast/mbus/pkg/wire"
)

type recvResult struct {
	pkt interface{}
	src *net.UDPAddr
}

// readLoop only reads and decodes datagrams; it touches no state shared
// with the reactor loop, so it needs no synchronization with it.
func (b *Bus) readLoop(ch chan<- recvResult) {
	defer b.wg.Done()

	buf := make([]byte, b.cfg.maxPacketBytes+64)
	for {
		n, src, err := b.sock.Recv(buf)
		if err != nil {
			select {
			case <-b.done:
			default:
				b.logger.Debug("mbus: socket receive error", "err", err)
			}
			return
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		decoded, err := wire.Decode(raw)
		if err != nil {
			b.logger.Debug("mbus: dropping malformed packet", "src", src, "err", err)
			continue
		}

		select {
		case ch <- recvResult{pkt: decoded, src: src}:
		case <-b.done:
			return
		}
	}
}

// reactorLoop is the single goroutine that owns b.peers. It multiplexes
// decoded packets from readLoop with the heartbeat and NAK-poll timers so
// none of that state ever needs a lock.
func (b *Bus) reactorLoop(recvCh <-chan recvResult) {
	defer b.wg.Done()

	heartbeatTicker := b.cfg.clock.NewTicker(b.cfg.heartbeatInterval)
	nakTicker := b.cfg.clock.NewTicker(nakPollInterval)
	defer heartbeatTicker.Stop()
	defer nakTicker.Stop()

	for {
		select {
		case <-b.done:
			return
		case r := <-recvCh:
			b.handlePacket(r)
		case <-heartbeatTicker.C():
			b.sendHeartbeatIfActive()
		case <-nakTicker.C():
			b.serviceNAKs()
		case reply := <-b.snapshotReq:
			reply <- b.snapshotPeers()
		}
	}
}

// snapshotPeers builds a diagnostics snapshot of every tracked peer. It
// must only be called from the reactor loop, which owns b.peers.
func (b *Bus) snapshotPeers() []PeerStats {
	now := b.clockNow()
	suspectAfter := b.cfg.heartbeatInterval * 3
	stats := make([]PeerStats, 0, len(b.peers))
	for _, tr := range b.peers {
		stats = append(stats, PeerStats{
			PeerID:      tr.PeerID,
			SessionID:   tr.SessionID,
			Liveness:    tr.Liveness(now, suspectAfter, b.cfg.peerIdleTimeout),
			PendingGaps: tr.PendingGaps(),
			LastHeard:   tr.LastHeard(),
		})
	}
	return stats
}

func (b *Bus) handlePacket(r recvResult) {
	switch pkt := r.pkt.(type) {
	case *wire.DataPacket:
		b.handleData(pkt, r.src)
	case *wire.NAKPacket:
		b.handleNAK(pkt, r.src)
	case *wire.HeartbeatPacket:
		b.handleHeartbeat(pkt, r.src)
	}
}

func (b *Bus) isSelf(peerID wire.PeerID, sessionID wire.SessionID) bool {
	return peerID == b.selfPeerID && sessionID == b.selfSessionID
}

func (b *Bus) trackerFor(src *net.UDPAddr, peerID wire.PeerID, sessionID wire.SessionID) *peer.Tracker {
	fp := peer.NewFingerprint(src.String(), sessionID)
	tr, ok := b.peers[fp]
	if !ok {
		tr = peer.NewTracker(peerID, sessionID)
		b.peers[fp] = tr
	}
	return tr
}

func (b *Bus) handleData(pkt *wire.DataPacket, src *net.UDPAddr) {
	if b.isSelf(pkt.PeerID, pkt.SessionID) {
		return
	}

	tr := b.trackerFor(src, pkt.PeerID, pkt.SessionID)
	delivered, _ := tr.Receive(pkt, b.clockNow())
	b.deliverAll(delivered)
}

// deliverAll decrypts (if needed) and dispatches each packet in sequence
// order, dropping any that fail to decrypt.
func (b *Bus) deliverAll(pkts []*wire.DataPacket) {
	for _, d := range pkts {
		payload, err := b.decryptIfNeeded(d)
		if err != nil {
			b.logger.Debug("mbus: dropping undecryptable payload", "topic", d.Topic, "err", err)
			continue
		}
		b.dispatch(d.Topic, payload)
	}
}

func (b *Bus) handleHeartbeat(pkt *wire.HeartbeatPacket, src *net.UDPAddr) {
	if b.isSelf(pkt.PeerID, pkt.SessionID) {
		return
	}
	tr := b.trackerFor(src, pkt.PeerID, pkt.SessionID)
	tr.ObserveHeartbeat(pkt.Sequence, b.clockNow())
}

func (b *Bus) handleNAK(pkt *wire.NAKPacket, src *net.UDPAddr) {
	if !b.isSelf(pkt.TargetPeerID, pkt.TargetSessionID) {
		return
	}
	for _, rng := range pkt.Ranges {
		for seq := rng.Start; ; seq++ {
			if stored, ok := b.ring.Get(seq); ok {
				if raw, err := stored.Marshal(); err == nil {
					if err := b.sock.SendTo(raw, src); err != nil {
						b.logger.Warn("mbus: retransmit failed", "seq", seq, "err", err)
					}
				}
			}
			if seq == rng.End {
				break
			}
		}
	}
}

// sendHeartbeatIfActive sends a HEARTBEAT only if at least one packet has
// been published since the last one sent (§5); an idle publisher stays
// silent instead of making every receiver allocate tracker state for it.
func (b *Bus) sendHeartbeatIfActive() {
	b.seqMu.Lock()
	seq := b.nextSeq
	b.seqMu.Unlock()

	if seq == b.lastHeartbeatSeq {
		return
	}
	b.lastHeartbeatSeq = seq

	hb := &wire.HeartbeatPacket{Header: wire.Header{
		PeerID:    b.selfPeerID,
		SessionID: b.selfSessionID,
		Sequence:  seq,
	}}
	if err := b.sock.Send(hb.Marshal()); err != nil {
		b.logger.Warn("mbus: heartbeat send failed", "err", err)
	}
}

// serviceNAKs polls every tracked peer for due retransmit requests and
// permanent losses, and evicts peers that have gone idle past
// PeerIdleTimeout.
func (b *Bus) serviceNAKs() {
	now := b.clockNow()

	for fp, tr := range b.peers {
		if now.Sub(tr.LastHeard()) > b.cfg.peerIdleTimeout {
			delete(b.peers, fp)
			continue
		}

		due, losses, released := tr.DueNAKs(now)
		for _, l := range losses {
			select {
			case b.losses <- l:
			default:
			}
		}
		b.deliverAll(released)
		if len(due) == 0 {
			continue
		}

		nak := &wire.NAKPacket{
			Header: wire.Header{
				PeerID:    b.selfPeerID,
				SessionID: b.selfSessionID,
			},
			TargetPeerID:    tr.PeerID,
			TargetSessionID: tr.SessionID,
			Ranges:          coalesce(due),
		}
		raw, err := nak.Marshal()
		if err != nil {
			b.logger.Warn("mbus: encoding NAK failed", "err", err)
			continue
		}
		if err := b.sock.Send(raw); err != nil {
			b.logger.Warn("mbus: sending NAK failed", "err", err)
		}
	}
}

// coalesce merges a set of missing sequence numbers into the minimal set
// of contiguous inclusive ranges.
func coalesce(seqs []wire.Sequence) []wire.Range {
	sorted := append([]wire.Sequence(nil), seqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var ranges []wire.Range
	for _, s := range sorted {
		if n := len(ranges); n > 0 && ranges[n-1].End+1 == s {
			ranges[n-1].End = s
			continue
		}
		ranges = append(ranges, wire.Range{Start: s, End: s})
	}
	return ranges
}
