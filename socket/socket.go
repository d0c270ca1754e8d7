// Package socket presents a TCP connection, plaintext or TLS, as a pair
// of byte streams plus two futures: Opened settles when the connection
// is established and Closed when it has been fully torn down.
//
// A socket opened with SecureTransport set to StartTLS can later be
// upgraded in place; StartTLS returns a new Socket that owns the
// encrypted connection while the original becomes inert.
//
//	s := socket.Connect("mail.example.com:25", &socket.ConnectOptions{
//		SecureTransport: socket.StartTLS,
//	})
//	if _, err := s.Opened().Wait(ctx); err != nil {
//		return err
//	}
//	// ... plaintext negotiation ...
//	secure, err := s.StartTLS()
package socket

import (
	"crypto/tls"
)

// SocketInfo describes an open connection.  Addresses are bare IPs
// ("::1", "127.0.0.1") without ports.
type SocketInfo struct {
	LocalAddress  string `json:"localAddress"`
	RemoteAddress string `json:"remoteAddress"`
	LocalPort     int    `json:"localPort"`
	RemotePort    int    `json:"remotePort"`

	// TLS is the negotiated state for encrypted sockets, nil otherwise.
	TLS *tls.ConnectionState `json:"-"`
}

// Socket is one logical TCP connection.  All methods are safe for
// concurrent use.
type Socket struct {
	c        *controller
	readable *Readable
	writable *Writable
}

func newSocket(c *controller) *Socket {
	return &Socket{
		c:        c,
		readable: &Readable{c: c},
		writable: &Writable{c: c},
	}
}

// Connect starts connecting to address and returns immediately.
// address may be a SocketAddress, a *SocketAddress, a map with
// "hostname" and "port" entries, or a "host:port" string.  The outcome
// is reported through Opened; an invalid address rejects it without
// any network activity.  opts may be nil.
func Connect(address any, opts *ConnectOptions) *Socket {
	o := opts.withDefaults()

	addr, err := ParseAddress(address)
	c := newController(addr, o)
	if err != nil {
		c.fail(err)
		return newSocket(c)
	}

	c.wg.Go(c.open)
	return newSocket(c)
}

// ID is a unique identifier used in log lines.
func (s *Socket) ID() string { return s.c.id }

// Address is the endpoint this socket was asked to connect to.
func (s *Socket) Address() SocketAddress { return s.c.addr }

// SecureTransport reports how TLS is handled on this socket.  Sockets
// returned by StartTLS report On.
func (s *Socket) SecureTransport() SecureTransport { return s.c.opts.SecureTransport }

// State is one of "connecting", "open", "closing" or "closed".
func (s *Socket) State() string { return s.c.currentState().String() }

// Readable returns the inbound stream.
func (s *Socket) Readable() *Readable { return s.readable }

// Writable returns the outbound stream.
func (s *Socket) Writable() *Writable { return s.writable }

// Opened settles once the connection (and TLS handshake, if any) has
// completed or failed.  Failures are *SocketError values carrying the
// transport's own message.
func (s *Socket) Opened() *Future[SocketInfo] { return s.c.opened }

// Closed settles once the socket has been torn down.  It rejects when a
// transport error ended the connection.
func (s *Socket) Closed() *Future[struct{}] { return s.c.closed }

// Close shuts the write side, waits for the peer to finish and releases
// the connection.  Every call returns the same future as Closed.
func (s *Socket) Close() *Future[struct{}] { return s.c.close() }

// Upgraded reports whether StartTLS has been called on this socket.
func (s *Socket) Upgraded() bool { return s.c.isUpgraded() }

// StartTLS upgrades the connection to TLS in place and returns the
// Socket that owns the encrypted stream.  It fails unless the socket
// was opened with SecureTransport StartTLS, and it can only be called
// once.  Handshake failures reject the returned socket's Opened.
//
// After StartTLS the original socket reads io.EOF, refuses writes, and
// its Closed settles with the new socket's.
func (s *Socket) StartTLS() (*Socket, error) {
	child, err := s.c.startTLS()
	if err != nil {
		return nil, err
	}
	return newSocket(child), nil
}
