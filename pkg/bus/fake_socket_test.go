package bus

import (
	"io"
	"net"
	"sync"
)

// fakeMedium is an in-memory multicast group: every fakeSocket attached to
// it receives every other attached socket's Send, mirroring how a real
// multicast group delivers to every joined member.
type fakeMedium struct {
	mu    sync.Mutex
	socks []*fakeSocket

	// drop, if set, is consulted before delivering b to dst; returning
	// true discards that datagram for that destination only, simulating
	// one lossy hop in an otherwise reliable medium.
	drop func(b []byte, dst *net.UDPAddr) bool
}

func newFakeMedium() *fakeMedium { return &fakeMedium{} }

func (m *fakeMedium) newSocket(port int) *fakeSocket {
	s := &fakeSocket{
		addr:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		in:     make(chan fakeDatagram, 256),
		medium: m,
	}
	m.mu.Lock()
	m.socks = append(m.socks, s)
	m.mu.Unlock()
	return s
}

type fakeDatagram struct {
	data []byte
	src  *net.UDPAddr
}

// fakeSocket implements datagramSocket entirely in memory, in the spirit
// of MockNetworkInterface: it records nothing itself, but its behavior is
// fully controlled by the test.
type fakeSocket struct {
	addr   *net.UDPAddr
	in     chan fakeDatagram
	medium *fakeMedium

	mu     sync.Mutex
	closed bool
}

func (s *fakeSocket) Send(b []byte) error {
	cp := append([]byte(nil), b...)
	s.medium.mu.Lock()
	targets := append([]*fakeSocket(nil), s.medium.socks...)
	drop := s.medium.drop
	s.medium.mu.Unlock()

	for _, t := range targets {
		if drop != nil && drop(cp, t.addr) {
			continue
		}
		t.deliver(fakeDatagram{data: cp, src: s.addr})
	}
	return nil
}

func (s *fakeSocket) SendTo(b []byte, addr *net.UDPAddr) error {
	cp := append([]byte(nil), b...)
	s.medium.mu.Lock()
	defer s.medium.mu.Unlock()
	for _, t := range s.medium.socks {
		if t.addr.String() == addr.String() {
			t.deliver(fakeDatagram{data: cp, src: s.addr})
			return nil
		}
	}
	return nil
}

func (s *fakeSocket) deliver(d fakeDatagram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.in <- d:
	default:
	}
}

func (s *fakeSocket) Recv(buf []byte) (int, *net.UDPAddr, error) {
	d, ok := <-s.in
	if !ok {
		return 0, nil, io.EOF
	}
	n := copy(buf, d.data)
	return n, d.src, nil
}

func (s *fakeSocket) LocalAddr() net.Addr { return s.addr }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.in)
	return nil
}
