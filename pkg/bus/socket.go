package bus

import "net"

// datagramSocket is the network collaborator a Bus sends and receives
// packets through. mcast.Socket implements it against real multicast UDP;
// tests substitute a hand-written fake.
type datagramSocket interface {
	Send(b []byte) error
	SendTo(b []byte, addr *net.UDPAddr) error
	Recv(buf []byte) (n int, src *net.UDPAddr, err error)
	LocalAddr() net.Addr
	Close() error
}
