package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/reliacast/mbus/pkg/bus"
	"github.com/reliacast/mbus/pkg/control"
)

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	group := fs.String("group", "", "multicast group address, e.g. 239.1.2.3:23572")
	pattern := fs.String("topic", ">", "topic filter to subscribe to")
	passphrase := fs.String("passphrase", "", "optional cipher passphrase")
	controlSock := fs.String("control", "", "optional unix socket path to serve diagnostics on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *group == "" {
		return fmt.Errorf("--group is required")
	}

	b, err := bus.Open(bus.Config{
		GroupAddr:        *group,
		CipherPassphrase: *passphrase,
	})
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer b.Close()

	if *controlSock != "" {
		ln, err := net.Listen("unix", *controlSock)
		if err != nil {
			return fmt.Errorf("opening control socket: %w", err)
		}
		defer ln.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go control.NewServer(b).Serve(ctx, ln)
	}

	if _, err := b.Subscribe(*pattern, func(topic string, payload []byte) {
		fmt.Printf("%s: %s\n", topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to %q: %w", *pattern, err)
	}

	go func() {
		for loss := range b.Losses() {
			fmt.Fprintf(os.Stderr, "mbusd: unrecoverable loss from peer %d session %d seq %d\n",
				loss.PeerID, loss.SessionID, loss.Sequence)
		}
	}()

	fmt.Printf("listening on %s for %q (peer %d, session %d)\n", *group, *pattern, b.LocalPeerID(), b.LocalSessionID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
