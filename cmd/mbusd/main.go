// Package main implements the mbusd CLI: a thin wrapper around pkg/bus
// for manual smoke testing of the multicast bus against real sockets.
package main

import (
	"fmt"
	"os"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "listen":
		if err := runListen(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "mbusd:", err)
			os.Exit(1)
		}
	case "publish":
		if err := runPublish(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "mbusd:", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("mbusd %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`mbusd v%s - reliable multicast pub/sub bus

Usage:
  mbusd <command> [options]

Commands:
  listen    Join a bus and print every delivered message
  publish   Publish a single message to a bus and exit
  version   Show version information
  help      Show this help message

Examples:
  mbusd listen --group 239.1.2.3:23572 --topic 'orders.>'
  mbusd publish --group 239.1.2.3:23572 --topic orders.created --payload 'hello'

`, version)
}
