// Package errors provides domain-specific error types for tcpsock.
//
// SocketError is the single kind surfaced by the public socket API.  The
// remaining types carry structured context (operation, address, host)
// for the transport and configuration layers and are normally wrapped
// into a SocketError before they reach a caller.
package errors

import (
	"errors"
	"fmt"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected    = errors.New("not connected")
	ErrSocketClosed    = errors.New("socket is closed")
	ErrUpgraded        = errors.New("socket has been upgraded to TLS")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// Messages used by the socket layer.  Callers match on these texts.
const (
	MsgStartTLSMode     = "secureTransport must be set to 'starttls'"
	MsgStartTLSOnce     = "can only call startTls once"
	MsgWriteAfterClose  = "failed to pipe after close"
	MsgClosedBeforeOpen = "socket closed before it was opened"
)

// ── Socket error ─────────────────────────────────────────────────────

// SocketError is the error kind returned by every socket operation.
// Two SocketErrors are equal when their messages are equal; the cause
// is kept for diagnostics only.
type SocketError struct {
	Message string
	Cause   error
}

// NewSocketError returns a SocketError with the given message and cause.
func NewSocketError(message string, cause error) *SocketError {
	return &SocketError{Message: message, Cause: cause}
}

// FromCause builds a SocketError whose message is the cause's own text.
// Connection failures use this so callers matching on the transport's
// message keep working.
func FromCause(cause error) *SocketError {
	if cause == nil {
		return nil
	}
	var se *SocketError
	if errors.As(cause, &se) {
		return se
	}
	return &SocketError{Message: cause.Error(), Cause: cause}
}

func (e *SocketError) Error() string { return e.Message }

func (e *SocketError) Unwrap() error { return e.Cause }

// Is reports message equality with another SocketError.
func (e *SocketError) Is(target error) bool {
	t, ok := target.(*SocketError)
	if !ok || t == nil {
		return false
	}
	return t.Message == e.Message
}

// Equal is the message-only comparison used by Is.
func (e *SocketError) Equal(other *SocketError) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Message == other.Message
}

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op   string // operation: "dial", "handshake", "read", "write", "close"
	Addr string // network address involved
	Err  error  // underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with gateway context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// IsSocketError reports whether err is, or wraps, a SocketError.
func IsSocketError(err error) bool {
	var se *SocketError
	return errors.As(err, &se)
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use tcpsock/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
