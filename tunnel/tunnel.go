// Package tunnel provides the SSH gateway that sockets can be routed
// through when the target is only reachable from a bastion host.
package tunnel

import (
	"context"
	"net"
)

// Gateway is an encrypted channel through which TCP connections can be
// forwarded.
type Gateway interface {
	// Connect establishes the session with the gateway host.
	Connect(ctx context.Context) error

	// Dial opens a connection to address from the gateway's side.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the session and every channel on it.
	Close() error

	// IsAlive reports whether the session is still up.
	IsAlive() bool
}

var _ Gateway = (*SSHTunnel)(nil)
