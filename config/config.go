// Package config defines the runtime configuration for tcpsock and
// the helpers that turn it into connection settings.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "tcpsock/internal/errors"
)

// Config holds every tuneable for a single tcpsock session.  The yaml
// tags name the keys accepted by LoadFile.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	LocalPort       int           `yaml:"local_port"` // optional source port
	SecureTransport string        `yaml:"secure_transport"`
	AllowHalfOpen   bool          `yaml:"allow_half_open"`
	Timeout         time.Duration `yaml:"timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`

	// ── TLS ──────────────────────────────────────────────────────────
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	StartTLSCommand    string `yaml:"starttls_command"` // sent in plaintext before upgrading

	// ── SSH gateway ──────────────────────────────────────────────────
	TunnelSpec        string        `yaml:"tunnel"` // raw user@host[:port] from -T
	TunnelEnabled     bool          `yaml:"-"`
	TunnelUser        string        `yaml:"-"`
	TunnelHost        string        `yaml:"-"`
	TunnelPort        int           `yaml:"-"`
	SSHKeyPath        string        `yaml:"ssh_key"`
	SSHPassword       bool          `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent       bool          `yaml:"ssh_agent"`
	StrictHostKey     bool          `yaml:"strict_hostkey"`
	KnownHostsPath    string        `yaml:"known_hosts"`
	KeepAliveInterval time.Duration `yaml:"keepalive"`
	GatewayRetries    int           `yaml:"gateway_retries"` // extra gateway connect attempts

	// ── Output ───────────────────────────────────────────────────────
	Verbose     int  `yaml:"verbose"`
	MetricsJSON bool `yaml:"metrics"`
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ResolveTunnel fills the Tunnel* fields from TunnelSpec.  The user
// falls back to $USER.
func (c *Config) ResolveTunnel() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error(),
			Hint: "use -T user@bastion.example.com:22"}
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

var secureTransports = map[string]bool{"off": true, "on": true, "starttls": true}

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ncerr.ConfigError{Field: "host", Message: "hostname is required",
			Hint: "usage: tcpsock [options] <host> <port>"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "must be between 1 and 65535"}
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &ncerr.ConfigError{Field: "local-port", Value: c.LocalPort, Message: "must be between 0 and 65535"}
	}

	mode := strings.ToLower(c.SecureTransport)
	if mode != "" && !secureTransports[mode] {
		return &ncerr.ConfigError{Field: "secure-transport", Value: c.SecureTransport,
			Message: "unknown mode", Hint: "choose off, on or starttls"}
	}
	if c.StartTLSCommand != "" && mode != "starttls" {
		return &ncerr.ConfigError{Field: "starttls-command", Value: c.StartTLSCommand,
			Message: "only applies to STARTTLS connections", Hint: "add --secure-transport starttls"}
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return &ncerr.ConfigError{Field: "cert", Message: "client certificate and key must be given together",
			Hint: "pass both --cert and --key"}
	}
	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.CloseTimeout < 0 {
		return &ncerr.ConfigError{Field: "close-timeout", Value: c.CloseTimeout, Message: "must not be negative"}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
	}
	if c.GatewayRetries < 0 {
		return &ncerr.ConfigError{Field: "gateway-retries", Value: c.GatewayRetries, Message: "must not be negative"}
	}
	if c.SSHKeyPath != "" && !c.TunnelEnabled {
		return &ncerr.ConfigError{Field: "ssh-key", Value: c.SSHKeyPath,
			Message: "only applies when connecting through a gateway", Hint: "add -T user@gateway"}
	}
	return nil
}

// ── TLS ──────────────────────────────────────────────────────────────

// TLSConfig builds the client TLS configuration.  It returns nil when
// no TLS option was set, leaving the socket's defaults in charge.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.CAFile == "" && c.CertFile == "" && c.ServerName == "" {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.ServerName,
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "ca", Value: c.CAFile, Message: err.Error()}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ncerr.ConfigError{Field: "ca", Value: c.CAFile, Message: "no certificates found",
				Hint: "the file must contain PEM-encoded certificates"}
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "cert", Value: c.CertFile, Message: err.Error()}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
