// Package transport provides the connection primitives the socket layer
// is built on: dialers that open a net.Conn (directly or through an SSH
// gateway) and helpers for layering TLS over a connection that is
// already open.  Nothing here knows about streams or lifecycles; that
// is the socket package's job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// HalfCloser is implemented by connections whose write side can be
// shut down while reads continue (*net.TCPConn, *tls.Conn, SSH channels).
type HalfCloser interface {
	CloseWrite() error
}

// CloseWrite half-closes conn when it supports it.  It reports whether
// a half-close was performed.
func CloseWrite(conn net.Conn) (bool, error) {
	hc, ok := conn.(HalfCloser)
	if !ok {
		return false, nil
	}
	return true, hc.CloseWrite()
}
