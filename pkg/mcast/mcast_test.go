package mcast

import (
	"bytes"
	"testing"
	"time"
)

func TestSocketSendRecvLoopback(t *testing.T) {
	cfg := Config{
		GroupAddr: "239.255.77.1:23573",
		Loopback:  true,
	}

	sender, err := Open(cfg, 1400)
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	defer sender.Close()

	receiver, err := Open(cfg, 1400)
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	defer receiver.Close()

	msg := []byte("hello multicast")
	if err := sender.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	receiver.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := receiver.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Fatalf("Recv = %q, want %q", buf[:n], msg)
	}
}
