package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSecureTransport keeps connections plaintext.
	DefaultSecureTransport = "off"

	// DefaultConnTimeout bounds the TCP dial plus any TLS handshake.
	DefaultConnTimeout = 10 * time.Second

	// DefaultCloseTimeout is how long Close waits for the peer to
	// finish after our write side has been shut down.
	DefaultCloseTimeout = 5 * time.Second

	// DefaultGatewayTimeout is the SSH gateway connection timeout.
	DefaultGatewayTimeout = 30 * time.Second

	// DefaultKeepAliveInterval is the SSH gateway keepalive interval.
	DefaultKeepAliveInterval = 30 * time.Second
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		SecureTransport:   DefaultSecureTransport,
		Timeout:           DefaultConnTimeout,
		CloseTimeout:      DefaultCloseTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		Verbose:           1,
	}
}
