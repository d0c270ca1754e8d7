package socket

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"tcpsock/internal/transport"
	"tcpsock/metrics"
	"tcpsock/util"
)

// SecureTransport selects when TLS is negotiated.
type SecureTransport int

const (
	// Off keeps the connection plaintext.
	Off SecureTransport = iota
	// On negotiates TLS before the socket reports itself open.
	On
	// StartTLS opens in plaintext and upgrades when StartTLS is called.
	StartTLS
)

func (s SecureTransport) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	case StartTLS:
		return "starttls"
	default:
		return fmt.Sprintf("SecureTransport(%d)", int(s))
	}
}

// ParseSecureTransport accepts "off", "on" or "starttls" (any case).
// The empty string means Off.
func ParseSecureTransport(s string) (SecureTransport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return Off, nil
	case "on":
		return On, nil
	case "starttls":
		return StartTLS, nil
	default:
		return Off, fmt.Errorf("invalid secure transport %q (want off, on or starttls)", s)
	}
}

// Defaults applied by Connect when the corresponding option is zero.
const (
	DefaultCloseTimeout   = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// ConnectOptions configures a single Connect call.  A nil
// *ConnectOptions is equivalent to the zero value.
type ConnectOptions struct {
	SecureTransport SecureTransport

	// AllowHalfOpen keeps the write side usable after the peer has
	// finished sending.  When false, reading end-of-stream closes the
	// socket.
	AllowHalfOpen bool

	// TLSConfig is cloned for every handshake.  ServerName defaults to
	// the address hostname.
	TLSConfig *tls.Config

	// InsecureSkipVerify disables certificate verification for this
	// connection only.
	InsecureSkipVerify bool

	// Dialer opens the transport.  Defaults to a TCPDialer bounded by
	// ConnectTimeout.
	Dialer transport.Dialer

	ConnectTimeout time.Duration

	// CloseTimeout bounds how long Close waits for the peer to finish
	// after our side has been shut down.
	CloseTimeout time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector

	// Context bounds the dial and handshake.  Cancelling it after the
	// socket is open has no effect; use Close.
	Context context.Context
}

func (o *ConnectOptions) withDefaults() ConnectOptions {
	var out ConnectOptions
	if o != nil {
		out = *o
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = DefaultCloseTimeout
	}
	if out.Dialer == nil {
		out.Dialer = &transport.TCPDialer{Timeout: out.ConnectTimeout}
	}
	if out.Logger == nil {
		out.Logger = util.Discard()
	}
	if out.Context == nil {
		out.Context = context.Background()
	}
	return out
}

// tlsConfig returns the client configuration for a handshake with
// hostname.
func (o *ConnectOptions) tlsConfig(hostname string) *tls.Config {
	var cfg *tls.Config
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = hostname
	}
	if o.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true //nolint:gosec // explicitly requested per connection
	}
	return cfg
}
