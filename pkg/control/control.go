// Package control implements a small local diagnostics API for an open
// pkg/bus.Bus: a newline-delimited JSON request/response protocol served
// over any net.Listener (a Unix socket in normal operation), so an operator
// or sidecar tool can inspect peer liveness and gap-tracking state without
// touching the wire protocol itself.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/reliacast/mbus/pkg/bus"
)

// Request is one diagnostics call.
type Request struct {
	Method string `json:"method"`
	ID     string `json:"id"`
}

// Response is the reply to a Request. Exactly one of Result or Error is
// set.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server answers diagnostics requests about a single Bus.
type Server struct {
	bus *bus.Bus
}

// NewServer returns a Server reporting on bus.
func NewServer(b *bus.Bus) *Server {
	return &Server{bus: b}
}

// Serve accepts connections from listener until ctx is done, handling each
// on its own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		if err := encoder.Encode(s.handleRequest(req)); err != nil {
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case "stats":
		return Response{ID: req.ID, Result: s.bus.Stats()}
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}
