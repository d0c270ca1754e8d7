package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"tcpsock/config"
	"tcpsock/internal/retry"
	"tcpsock/internal/transport"
	"tcpsock/metrics"
	"tcpsock/socket"
	"tcpsock/tunnel"
	"tcpsock/util"
)

// replyTimeout bounds the wait for the server's answer to the
// STARTTLS command.
const replyTimeout = 10 * time.Second

// run opens the socket described by cfg and copies stdin/stdout
// through it until either side finishes.
func run(ctx context.Context, cfg *config.Config) error {
	logger := util.NewLogger(cfg.Verbose)
	collector := metrics.New()
	if cfg.MetricsJSON {
		exp, err := metrics.Instrument(collector)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer reportMetrics(os.Stderr, collector, exp, logger)
	}

	opts, err := connectOptions(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer opts.Dialer.Close() //nolint:errcheck // best effort

	addr := socket.SocketAddress{Hostname: cfg.Host, Port: cfg.Port}
	sock := socket.Connect(addr, opts)
	info, err := sock.Opened().Wait(ctx)
	if err != nil {
		closeSocket(sock, cfg.CloseTimeout)
		return err
	}
	logger.Verbose("connected %s -> %s", info.LocalAddress, addr)

	if opts.SecureTransport == socket.StartTLS && cfg.StartTLSCommand != "" {
		sock, err = upgrade(ctx, sock, cfg.StartTLSCommand, logger)
		if err != nil {
			return err
		}
	}

	err = util.BidirectionalCopy(ctx, &stream{sock: sock, closeTimeout: cfg.CloseTimeout}, os.Stdin, os.Stdout)
	closeSocket(sock, cfg.CloseTimeout)
	return err
}

// connectOptions translates the CLI configuration into socket options.
func connectOptions(ctx context.Context, cfg *config.Config, logger *util.Logger, collector *metrics.Collector) (*socket.ConnectOptions, error) {
	mode, err := socket.ParseSecureTransport(cfg.SecureTransport)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}

	var dialer transport.Dialer = &transport.TCPDialer{Timeout: cfg.Timeout, LocalPort: cfg.LocalPort}
	if cfg.TunnelEnabled {
		ssh := transport.NewSSHDialer(&tunnel.SSHConfig{
			User:              cfg.TunnelUser,
			Host:              cfg.TunnelHost,
			Port:              cfg.TunnelPort,
			KeyPath:           cfg.SSHKeyPath,
			PromptPass:        cfg.SSHPassword,
			UseAgent:          cfg.UseSSHAgent,
			StrictHostKey:     cfg.StrictHostKey,
			KnownHosts:        cfg.KnownHostsPath,
			ConnTimeout:       cfg.Timeout,
			KeepAliveInterval: cfg.KeepAliveInterval,
		}, logger)
		if cfg.GatewayRetries > 0 {
			ssh.Retry = retry.Gateway()
			ssh.Retry.MaxAttempts = cfg.GatewayRetries + 1
		}
		dialer = ssh
	}

	return &socket.ConnectOptions{
		SecureTransport:    mode,
		AllowHalfOpen:      cfg.AllowHalfOpen,
		TLSConfig:          tlsCfg,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Dialer:             dialer,
		ConnectTimeout:     cfg.Timeout,
		CloseTimeout:       cfg.CloseTimeout,
		Logger:             logger,
		Metrics:            collector,
		Context:            ctx,
	}, nil
}

// upgrade sends command in plaintext, waits for one reply chunk and
// then switches the connection to TLS.
func upgrade(ctx context.Context, sock *socket.Socket, command string, logger *util.Logger) (*socket.Socket, error) {
	if _, err := sock.Writable().WriteContext(ctx, []byte(command+"\r\n")); err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, replyTimeout)
	reply, err := sock.Readable().ReadChunk(rctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("waiting for %s reply: %w", command, err)
	}
	logger.Verbose("server: %q", reply)

	secure, err := sock.StartTLS()
	if err != nil {
		return nil, err
	}
	if _, err := secure.Opened().Wait(ctx); err != nil {
		return nil, err
	}
	logger.Verbose("upgraded to TLS")
	return secure, nil
}

// reportMetrics writes the counter snapshot followed by the totals
// read back from the OpenTelemetry instruments.
func reportMetrics(w io.Writer, collector *metrics.Collector, exp *metrics.Exporter, logger *util.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	defer exp.Shutdown(ctx) //nolint:errcheck

	fmt.Fprintln(w, collector.JSON())
	otel, err := exp.JSON(ctx)
	if err != nil {
		logger.Warn("collecting instruments: %v", err)
		return
	}
	fmt.Fprintln(w, otel)
}

func closeSocket(sock *socket.Socket, timeout time.Duration) {
	if timeout <= 0 {
		timeout = socket.DefaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()
	sock.Close().Wait(ctx) //nolint:errcheck // stream errors were already logged
}

// stream adapts a Socket to util.Stream.
type stream struct {
	sock         *socket.Socket
	closeTimeout time.Duration
}

func (s *stream) Read(p []byte) (int, error)  { return s.sock.Readable().Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.sock.Writable().Write(p) }
func (s *stream) CloseWrite() error           { return s.sock.Writable().Close() }

func (s *stream) Close() error {
	closeSocket(s.sock, s.closeTimeout)
	return nil
}

var _ util.Stream = (*stream)(nil)
