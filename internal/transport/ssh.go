package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	ncerr "tcpsock/internal/errors"
	"tcpsock/internal/retry"
	"tcpsock/tunnel"
	"tcpsock/util"
)

// SSHDialer routes connections through an SSH gateway.  The gateway
// session is opened lazily on the first Dial and shared by every
// connection made afterwards, so one dialer can back many sockets.
//
// When Retry is set, gateway connects that fail at the network level
// are retried with it; the zero dialer makes one attempt.  Consecutive
// failed connects open Breaker, after which Dial fails fast until the
// breaker's cooldown has passed.
type SSHDialer struct {
	Retry   *retry.Backoff
	Breaker *retry.Breaker

	tunnel    tunnel.Gateway
	config    *tunnel.SSHConfig
	logger    *util.Logger
	mu        sync.Mutex
	connected bool
}

// NewSSHDialer creates a dialer that forwards connections through the
// SSH gateway described by cfg.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if logger == nil {
		logger = util.Discard()
	}
	return newSSHDialer(tunnel.NewSSHTunnel(cfg, logger), cfg, logger)
}

func newSSHDialer(gw tunnel.Gateway, cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	d := &SSHDialer{
		tunnel: gw,
		config: cfg,
		logger: logger,
	}
	d.Breaker = &retry.Breaker{
		OnChange: func(from, to retry.BreakerState) {
			logger.Verbose("gateway breaker %s -> %s", from, to)
		},
	}
	return d
}

func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.tunnel.IsAlive() {
		return nil
	}

	d.logger.Verbose("opening SSH gateway %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	err := d.Breaker.Do(func() error {
		return d.Retry.Do(ctx, func(attempt int) error {
			if attempt > 1 {
				d.logger.Verbose("gateway connect attempt %d", attempt)
			}
			err := d.tunnel.Connect(ctx)
			if err != nil && !retryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
	}, isCancel)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	d.connected = true
	d.logger.Verbose("SSH gateway ready")
	return nil
}

// retryable reports whether a failed gateway connect is worth another
// try.  Only network-level failures qualify; a rejected handshake or
// credential will fail the same way again.
func retryable(err error) bool {
	var ne *ncerr.NetworkError
	return errors.As(err, &ne) && !isCancel(err)
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Dial opens a direct-tcpip channel to address on the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the gateway session and every channel on it.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.connected = false
		return d.tunnel.Close()
	}
	return nil
}
