package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. YAML config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the file leave cfg untouched; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the TCPSOCK_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("750ms") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TCPSOCK_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("TCPSOCK_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("TCPSOCK_LOCAL_PORT"); v > 0 {
		cfg.LocalPort = v
	}
	if v := os.Getenv("TCPSOCK_SECURE_TRANSPORT"); v != "" {
		cfg.SecureTransport = v
	}
	if envBool("TCPSOCK_ALLOW_HALF_OPEN") {
		cfg.AllowHalfOpen = true
	}
	if v := envDuration("TCPSOCK_TIMEOUT"); v > 0 {
		cfg.Timeout = v
	}
	if v := envDuration("TCPSOCK_CLOSE_TIMEOUT"); v > 0 {
		cfg.CloseTimeout = v
	}

	// TLS
	if v := os.Getenv("TCPSOCK_CA_FILE"); v != "" {
		cfg.CAFile = v
	}
	if v := os.Getenv("TCPSOCK_CERT_FILE"); v != "" {
		cfg.CertFile = v
	}
	if v := os.Getenv("TCPSOCK_KEY_FILE"); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv("TCPSOCK_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if envBool("TCPSOCK_INSECURE") {
		cfg.InsecureSkipVerify = true
	}
	if v := os.Getenv("TCPSOCK_STARTTLS_COMMAND"); v != "" {
		cfg.StartTLSCommand = v
	}

	// SSH gateway
	if v := os.Getenv("TCPSOCK_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("TCPSOCK_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("TCPSOCK_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("TCPSOCK_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("TCPSOCK_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("TCPSOCK_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v := envDuration("TCPSOCK_KEEP_ALIVE"); v > 0 {
		cfg.KeepAliveInterval = v
	}
	if v := envInt("TCPSOCK_GATEWAY_RETRIES"); v > 0 {
		cfg.GatewayRetries = v
	}

	// Output
	if v := envInt("TCPSOCK_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("TCPSOCK_METRICS") {
		cfg.MetricsJSON = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
