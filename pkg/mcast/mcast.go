// Package mcast implements the multicast UDP datagram socket BusCore sends
// and receives packets over (§4.3, §6): join/leave a multicast group, set
// the outbound TTL and loopback behavior, and read/write whole datagrams.
package mcast

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// DefaultTTL is the multicast hop limit used when a Config does not
// override it; 1 keeps traffic on the local subnet.
const DefaultTTL = 1

// Config describes the multicast group and local interface a Socket binds
// to.
type Config struct {
	// GroupAddr is the multicast group address and port, e.g. "239.1.2.3:23572".
	GroupAddr string

	// Interface selects which local network interface joins the group; nil
	// lets the kernel choose.
	Interface *net.Interface

	// TTL is the outbound multicast hop limit. Zero means DefaultTTL.
	TTL int

	// Loopback controls whether packets this socket sends are delivered
	// back to sockets on the same host that joined the group.
	Loopback bool
}

// Socket is a joined multicast UDP socket, wrapping a net.UDPConn through
// golang.org/x/net/ipv4 for group membership and TTL/loopback control.
type Socket struct {
	conn     *net.UDPConn
	packet   *ipv4.PacketConn
	group    *net.UDPAddr
	iface    *net.Interface
	maxDgram int
}

// Open binds a UDP socket, joins the configured multicast group, and
// applies TTL and loopback settings.
func Open(cfg Config, maxDgram int) (*Socket, error) {
	groupAddr, err := net.ResolveUDPAddr("udp4", cfg.GroupAddr)
	if err != nil {
		return nil, fmt.Errorf("mcast: resolve group address %q: %w", cfg.GroupAddr, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: groupAddr.Port})
	if err != nil {
		return nil, fmt.Errorf("mcast: listen udp4 on port %d: %w", groupAddr.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(cfg.Interface, groupAddr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: join group %s: %w", groupAddr, err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: set TTL %d: %w", ttl, err)
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: set loopback %v: %w", cfg.Loopback, err)
	}

	return &Socket{
		conn:     conn,
		packet:   pc,
		group:    groupAddr,
		iface:    cfg.Interface,
		maxDgram: maxDgram,
	}, nil
}

// Send writes b as a single datagram to the multicast group.
func (s *Socket) Send(b []byte) error {
	_, err := s.conn.WriteToUDP(b, s.group)
	if err != nil {
		return fmt.Errorf("mcast: send %d bytes: %w", len(b), err)
	}
	return nil
}

// SendTo writes b as a single datagram to a specific unicast address, used
// to answer a NAK directly to its asker rather than re-broadcasting the
// retransmission (§6).
func (s *Socket) SendTo(b []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(b, addr)
	if err != nil {
		return fmt.Errorf("mcast: send %d bytes to %s: %w", len(b), addr, err)
	}
	return nil
}

// Recv blocks until a datagram arrives, copies its payload into buf, and
// returns the number of bytes copied and the source address.
func (s *Socket) Recv(buf []byte) (n int, src *net.UDPAddr, err error) {
	n, src, err = s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("mcast: receive: %w", err)
	}
	return n, src, nil
}

// LocalAddr returns the socket's local address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close leaves the multicast group and closes the underlying socket.
func (s *Socket) Close() error {
	_ = s.packet.LeaveGroup(s.iface, s.group)
	return s.conn.Close()
}
