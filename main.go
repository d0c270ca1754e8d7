// tcpsock connects stdin/stdout to a TCP socket with optional TLS,
// STARTTLS upgrade and SSH gateway dialing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tcpsock/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tcpsock: %v\n", err)
		os.Exit(1)
	}
}
