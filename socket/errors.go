package socket

import (
	"errors"

	ncerr "tcpsock/internal/errors"
)

// SocketError is the single error kind surfaced by this package.  Two
// SocketErrors match under errors.Is when their messages are equal.
type SocketError = ncerr.SocketError

// Messages carried by SocketErrors raised for misuse and teardown.
const (
	MsgStartTLSMode     = ncerr.MsgStartTLSMode
	MsgStartTLSOnce     = ncerr.MsgStartTLSOnce
	MsgWriteAfterClose  = ncerr.MsgWriteAfterClose
	MsgClosedBeforeOpen = ncerr.MsgClosedBeforeOpen
)

// NewSocketError returns a SocketError with the given message and an
// optional underlying cause.
func NewSocketError(msg string, cause error) *SocketError {
	return ncerr.NewSocketError(msg, cause)
}

// IsSocketError reports whether err is, or wraps, a SocketError.
func IsSocketError(err error) bool {
	var se *SocketError
	return errors.As(err, &se)
}
