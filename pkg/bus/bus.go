// Package bus implements BusCore: the reliable sequenced multicast
// publish/subscribe engine described in §5–§7. A Bus opens one multicast
// datagram socket, assigns itself a fresh session, and runs a single
// reactor loop that owns all per-peer reception state — packets arriving
// over the socket and timer ticks for heartbeats and NAK retransmission
// are both funneled into that one loop, so the peer-state map never needs
// a lock. Publish and Subscribe/Unsubscribe are safe to call from any
// goroutine and synchronize only over their own short critical sections
// (the outbound sequence counter and retransmit ring, and the
// subscription table, respectively).
package bus

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reliacast/mbus/pkg/cipher"
	"github.com/reliacast/mbus/pkg/constants"
	"github.com/reliacast/mbus/pkg/mcast"
	"github.com/reliacast/mbus/pkg/peer"
	"github.com/reliacast/mbus/pkg/topic"
	"github.com/reliacast/mbus/pkg/wire"
)

const flagEncrypted = constants.FlagEncrypted

// nakPollInterval is how often the reactor loop checks tracked peers for
// due NAKs; it is independent of any single peer's backoff schedule.
const nakPollInterval = 25 * time.Millisecond

// Bus is an open, running instance of the reliable multicast pub/sub
// engine. Create one with Open and release its resources with Close.
type Bus struct {
	cfg    *resolvedConfig
	sock   datagramSocket
	logger *slog.Logger

	selfPeerID    wire.PeerID
	selfSessionID wire.SessionID

	seqMu   sync.Mutex
	nextSeq wire.Sequence
	ring    *peer.RetransmitRing

	subsMu    sync.RWMutex
	subs      map[uint64]*subscription
	nextSubID uint64

	// peers and lastHeartbeatSeq are owned exclusively by the reactor loop.
	peers            map[peer.Fingerprint]*peer.Tracker
	lastHeartbeatSeq wire.Sequence

	losses chan peer.LossEvent

	snapshotReq chan chan []PeerStats

	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// PeerStats is a point-in-time snapshot of one tracked remote peer, for use
// by diagnostics tooling such as pkg/control.
type PeerStats struct {
	PeerID      wire.PeerID
	SessionID   wire.SessionID
	Liveness    peer.LivenessState
	PendingGaps int
	LastHeard   time.Time
}

// Stats is a point-in-time snapshot of the whole Bus, for use by
// diagnostics tooling such as pkg/control.
type Stats struct {
	LocalPeerID    wire.PeerID
	LocalSessionID wire.SessionID
	Subscriptions  int
	Peers          []PeerStats
}

type subscription struct {
	id      uint64
	filter  *topic.Filter
	handler func(topic string, payload []byte)
}

// Handler receives a delivered message for a topic matching a
// subscription's filter.
type Handler func(topic string, payload []byte)

// Open binds the configured multicast socket, assigns this instance a
// fresh random session ID, and starts its reactor and heartbeat/NAK
// timers.
func Open(cfg Config) (*Bus, error) {
	rc, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	sock, err := mcast.Open(mcast.Config{
		GroupAddr: rc.groupAddr,
		Interface: rc.iface,
		Loopback:  true,
	}, rc.maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("bus: open multicast socket: %w", err)
	}

	return newBus(rc, sock, slog.Default())
}

func newBus(rc *resolvedConfig, sock datagramSocket, logger *slog.Logger) (*Bus, error) {
	peerID, err := randomPeerID()
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("bus: generating peer id: %w", err)
	}
	sessionID, err := randomSessionID()
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("bus: generating session id: %w", err)
	}

	b := &Bus{
		cfg:           rc,
		sock:          sock,
		logger:        logger,
		selfPeerID:    peerID,
		selfSessionID: sessionID,
		nextSeq:       1,
		ring:          peer.NewRetransmitRing(rc.retransmitRingSize),
		subs:          make(map[uint64]*subscription),
		peers:         make(map[peer.Fingerprint]*peer.Tracker),
		losses:        make(chan peer.LossEvent, 64),
		snapshotReq:   make(chan chan []PeerStats),
		done:          make(chan struct{}),
	}
	// Nothing has been published yet, so an idle Bus sends no heartbeat.
	b.lastHeartbeatSeq = b.nextSeq

	recvCh := make(chan recvResult, 64)
	b.wg.Add(2)
	go b.readLoop(recvCh)
	go b.reactorLoop(recvCh)

	return b, nil
}

func randomPeerID() (wire.PeerID, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return wire.PeerID(binary.BigEndian.Uint32(buf[:])), nil
}

func randomSessionID() (wire.SessionID, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return wire.SessionID(binary.BigEndian.Uint16(buf[:])), nil
}

// Losses returns the channel LossEvents are delivered on: sequences whose
// retransmit deadline elapsed unrecovered (§7). The caller should drain
// it; a full channel simply drops further events rather than blocking the
// reactor loop.
func (b *Bus) Losses() <-chan peer.LossEvent { return b.losses }

// LocalPeerID returns the PeerID this Bus instance publishes under.
func (b *Bus) LocalPeerID() wire.PeerID { return b.selfPeerID }

// LocalSessionID returns the SessionID assigned to this Bus instance for
// its current Open.
func (b *Bus) LocalSessionID() wire.SessionID { return b.selfSessionID }

// Publish encrypts (if configured) and frames payload under topic, buffers
// it in the retransmit ring in case a subscriber NAKs it, and then
// multicasts it. topic must be a valid concrete topic (see
// pkg/topic.Validate).
func (b *Bus) Publish(t string, payload []byte) error {
	if err := topic.Validate(t); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}

	body := payload
	var flags uint16
	if b.cfg.cipher != nil {
		padded := cipher.Pad(payload)
		ct, err := b.cfg.cipher.EncryptECB(padded)
		if err != nil {
			return fmt.Errorf("bus: publish: encrypting payload: %w", err)
		}
		body = ct
		flags |= flagEncrypted
	}

	b.seqMu.Lock()
	seq := b.nextSeq
	b.nextSeq++
	pkt := &wire.DataPacket{
		Header: wire.Header{
			Flags:     flags,
			PeerID:    b.selfPeerID,
			SessionID: b.selfSessionID,
			Sequence:  seq,
		},
		Topic:   t,
		Payload: body,
	}
	b.ring.Store(pkt)
	b.seqMu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("bus: publish: encoding packet: %w", err)
	}
	if err := b.sock.Send(raw); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Subscribe registers handler to be called, from the reactor loop, for
// every delivered message whose topic matches pattern. It returns an ID
// to pass to Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) (uint64, error) {
	f, err := topic.NewFilter(pattern)
	if err != nil {
		return 0, fmt.Errorf("bus: subscribe: %w", err)
	}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.subs[id] = &subscription{id: id, filter: f, handler: handler}
	return id, nil
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (b *Bus) Unsubscribe(id uint64) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	delete(b.subs, id)
}

// Stats asks the reactor loop for a snapshot of its current peer set and
// returns once it responds, or once the Bus is closed. It is safe to call
// from any goroutine.
func (b *Bus) Stats() Stats {
	b.subsMu.RLock()
	subs := len(b.subs)
	b.subsMu.RUnlock()

	reply := make(chan []PeerStats, 1)
	select {
	case b.snapshotReq <- reply:
	case <-b.done:
		return Stats{LocalPeerID: b.selfPeerID, LocalSessionID: b.selfSessionID, Subscriptions: subs}
	}

	var peers []PeerStats
	select {
	case peers = <-reply:
	case <-b.done:
	}
	return Stats{
		LocalPeerID:    b.selfPeerID,
		LocalSessionID: b.selfSessionID,
		Subscriptions:  subs,
		Peers:          peers,
	}
}

// Close stops the reactor and timer loops and releases the socket. It is
// safe to call more than once.
func (b *Bus) Close() error {
	var err error
	b.closed.Do(func() {
		close(b.done)
		err = b.sock.Close()
		b.wg.Wait()
		close(b.losses)
	})
	return err
}

func (b *Bus) dispatch(t string, payload []byte) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for _, s := range b.subs {
		if s.filter.Matches(t) {
			s.handler(t, payload)
		}
	}
}

func (b *Bus) decryptIfNeeded(pkt *wire.DataPacket) ([]byte, error) {
	if !pkt.Encrypted() {
		return pkt.Payload, nil
	}
	if b.cfg.cipher == nil {
		return nil, fmt.Errorf("bus: received encrypted payload but no cipher is configured")
	}
	padded, err := b.cfg.cipher.DecryptECB(pkt.Payload)
	if err != nil {
		return nil, fmt.Errorf("bus: decrypting payload: %w", err)
	}
	return cipher.Unpad(padded)
}

func (b *Bus) clockNow() time.Time { return b.cfg.clock.Now() }
