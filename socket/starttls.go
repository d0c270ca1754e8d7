package socket

import (
	"context"

	ncerr "tcpsock/internal/errors"
	"tcpsock/internal/transport"
)

// startTLS hands c's connection to a new controller that negotiates TLS
// over it.  The child is returned at once; the handshake runs in the
// background and its outcome settles the child's Opened.
func (c *controller) startTLS() (*controller, error) {
	if c.opts.SecureTransport != StartTLS {
		return nil, NewSocketError(MsgStartTLSMode, nil)
	}

	c.mu.Lock()
	if c.upgraded {
		c.mu.Unlock()
		return nil, NewSocketError(MsgStartTLSOnce, nil)
	}
	c.upgraded = true
	handoff := !c.closing
	c.mu.Unlock()

	opts := c.opts
	opts.SecureTransport = On
	child := newController(c.addr, opts)
	child.log = child.log.WithField("parent", c.id[:8])

	child.wg.Go(func() { child.upgrade(c, handoff) })

	go func() {
		<-child.closed.Done()
		c.closed.resolve(struct{}{})
	}()

	c.log.Verbose("upgrading to TLS as %s", child.id[:8])
	return child, nil
}

// upgrade waits for the parent to open, takes its conn and runs the TLS
// handshake.  Plaintext the parent read but never delivered stays with
// the parent and is discarded.
func (c *controller) upgrade(parent *controller, handoff bool) {
	if !handoff {
		c.fail(NewSocketError(MsgClosedBeforeOpen, ncerr.ErrSocketClosed))
		return
	}

	pb, err := parent.attached.Wait(c.ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			// Closed before the parent opened; whatever the parent
			// ends up with is ours to release.
			go func() {
				if pb, err := parent.attached.Wait(context.Background()); err == nil {
					pb.shutdown(c.opts.CloseTimeout)
					c.metrics.ConnectionClosed(false)
				}
			}()
		}
		c.fail(err)
		return
	}

	if residual := pb.detach(); len(residual) > 0 {
		c.log.Debug("dropping %d plaintext bytes never read before the upgrade", len(residual))
	}
	pb.retire(NewSocketError(MsgWriteAfterClose, ncerr.ErrUpgraded))
	c.metrics.ConnectionClosed(false)

	parent.mu.Lock()
	parent.state = stateClosed
	parent.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	defer cancel()

	tlsConn, err := transport.ClientTLS(ctx, pb.conn, c.opts.tlsConfig(c.addr.Hostname))
	if err != nil {
		pb.conn.Close()
		c.fail(err)
		return
	}

	c.metrics.TLSUpgraded()
	c.attach(tlsConn)
}
