package socket

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	ncerr "tcpsock/internal/errors"
	"tcpsock/internal/transport"
	"tcpsock/metrics"
	"tcpsock/util"
)

type state int

const (
	stateConnecting state = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// controller drives one connection through
// connecting -> open -> closing -> closed.
type controller struct {
	id      string
	addr    SocketAddress
	opts    ConnectOptions
	log     *util.Logger
	metrics *metrics.Collector
	secure  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	opened   *Future[SocketInfo]
	closed   *Future[struct{}]
	attached *Future[*bridge]

	closeOnce sync.Once

	mu        sync.Mutex
	state     state
	closing   bool
	upgraded  bool
	streamErr error
}

func newController(addr SocketAddress, opts ConnectOptions) *controller {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(opts.Context)
	return &controller{
		id:       id,
		addr:     addr,
		opts:     opts,
		log:      opts.Logger.WithField("socket", id[:8]),
		metrics:  opts.Metrics,
		secure:   opts.SecureTransport == On,
		ctx:      ctx,
		cancel:   cancel,
		opened:   newFuture[SocketInfo](),
		closed:   newFuture[struct{}](),
		attached: newFuture[*bridge](),
	}
}

// open dials the transport and, for immediate TLS, completes the
// handshake before the socket is reported open.
func (c *controller) open() {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.log.Verbose("connecting to %s (tls=%s)", c.addr, c.opts.SecureTransport)

	conn, err := c.opts.Dialer.Dial(ctx, "tcp", c.addr.String())
	if err != nil {
		c.fail(err)
		return
	}

	if c.opts.SecureTransport == On {
		tlsConn, err := transport.ClientTLS(ctx, conn, c.opts.tlsConfig(c.addr.Hostname))
		if err != nil {
			conn.Close()
			c.fail(err)
			return
		}
		conn = tlsConn
	}

	c.attach(conn)
}

// fail settles a socket that never opened: Opened rejects, Closed
// resolves.
func (c *controller) fail(err error) {
	c.mu.Lock()
	if c.closing {
		err = NewSocketError(MsgClosedBeforeOpen, err)
	}
	c.state = stateClosed
	c.mu.Unlock()

	se := ncerr.FromCause(err)
	c.metrics.ConnectFailed()
	c.log.Verbose("connect to %s failed: %v", c.addr, se)

	c.opened.reject(se)
	c.attached.reject(se)
	c.closed.resolve(struct{}{})
	c.cancel()
}

func (c *controller) attach(conn net.Conn) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		c.fail(ncerr.ErrSocketClosed)
		return
	}
	b := newBridge(conn, c.log, c.metrics, c.peerEnded, c.streamFailed)
	c.state = stateOpen
	c.mu.Unlock()

	info := socketInfo(conn)
	c.metrics.ConnectionOpened(c.secure)
	c.log.Verbose("open %s:%d -> %s:%d", info.LocalAddress, info.LocalPort, info.RemoteAddress, info.RemotePort)

	c.opened.resolve(info)
	c.attached.resolve(b)
}

func socketInfo(conn net.Conn) SocketInfo {
	info := SocketInfo{
		LocalAddress:  util.HostOnly(conn.LocalAddr()),
		LocalPort:     util.PortOf(conn.LocalAddr()),
		RemoteAddress: util.HostOnly(conn.RemoteAddr()),
		RemotePort:    util.PortOf(conn.RemoteAddr()),
	}
	if tc, ok := conn.(*tls.Conn); ok {
		st := tc.ConnectionState()
		info.TLS = &st
	}
	return info
}

// readStream waits for the socket to open and returns its bridge.
func (c *controller) readStream(ctx context.Context) (*bridge, error) {
	if c.isUpgraded() {
		return nil, io.EOF
	}
	b, err := c.attached.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if c.isUpgraded() {
		return nil, io.EOF
	}
	return b, nil
}

func (c *controller) writeStream(ctx context.Context) (*bridge, error) {
	if c.isUpgraded() {
		return nil, NewSocketError(MsgWriteAfterClose, ncerr.ErrUpgraded)
	}
	b, err := c.attached.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, NewSocketError(MsgWriteAfterClose, err)
	}
	if c.isUpgraded() {
		return nil, NewSocketError(MsgWriteAfterClose, ncerr.ErrUpgraded)
	}
	return b, nil
}

func (c *controller) isUpgraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upgraded
}

func (c *controller) currentState() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// close starts teardown once and returns the Closed future.  A socket
// whose conn has been handed to a TLS child resolves immediately and
// leaves the conn alone.
func (c *controller) close() *Future[struct{}] {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		handedOff := c.upgraded
		c.closing = true
		c.mu.Unlock()

		if handedOff {
			c.log.Debug("close after upgrade; conn belongs to the TLS socket")
			c.closed.resolve(struct{}{})
			return
		}
		c.cancel()
		go c.teardown()
	})
	return c.closed
}

func (c *controller) teardown() {
	// Let a dial or handshake in progress finish or abort first.
	c.wg.Wait()

	b, err := c.attached.Wait(context.Background())
	if err != nil {
		c.closed.resolve(struct{}{})
		return
	}

	c.mu.Lock()
	c.state = stateClosing
	c.mu.Unlock()
	c.log.Verbose("closing")

	b.shutdown(c.opts.CloseTimeout)
	c.metrics.ConnectionClosed(c.secure)

	c.mu.Lock()
	c.state = stateClosed
	streamErr := c.streamErr
	c.mu.Unlock()

	if streamErr != nil {
		c.log.Verbose("closed with error: %v", streamErr)
		c.closed.reject(streamErr)
		return
	}
	c.log.Verbose("closed")
	c.closed.resolve(struct{}{})
}

// peerEnded runs on the read pump when the peer finishes sending.
func (c *controller) peerEnded() {
	if c.opts.AllowHalfOpen {
		c.log.Debug("peer finished sending; write side stays open")
		return
	}
	c.close()
}

// streamFailed records the first transport error; Closed rejects with
// it once teardown completes.
func (c *controller) streamFailed(err error) {
	se := ncerr.FromCause(err)
	c.mu.Lock()
	if c.streamErr == nil {
		c.streamErr = se
	}
	c.mu.Unlock()

	c.metrics.RecordError(se.Message)
	c.log.Warn("stream error: %v", se)
	c.close()
}
