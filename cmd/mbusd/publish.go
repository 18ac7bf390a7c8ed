package main

import (
	"flag"
	"fmt"

	"github.com/reliacast/mbus/pkg/bus"
)

func runPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	group := fs.String("group", "", "multicast group address, e.g. 239.1.2.3:23572")
	topicName := fs.String("topic", "", "topic to publish under")
	payload := fs.String("payload", "", "message payload")
	passphrase := fs.String("passphrase", "", "optional cipher passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *group == "" || *topicName == "" {
		return fmt.Errorf("--group and --topic are required")
	}

	b, err := bus.Open(bus.Config{
		GroupAddr:        *group,
		CipherPassphrase: *passphrase,
	})
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer b.Close()

	if err := b.Publish(*topicName, []byte(*payload)); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	fmt.Printf("published %q to %q\n", *payload, *topicName)
	return nil
}
