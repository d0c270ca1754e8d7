package util

import (
	"context"
	"errors"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	ncerr "tcpsock/internal/errors"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// Stream is the remote half of a copy: a byte stream that can be
// half-closed for writing and torn down entirely.  *net.TCPConn and
// the socket package's stream adapter both satisfy it.
type Stream interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

// BidirectionalCopy shuffles data between a remote stream and an
// arbitrary reader/writer pair (typically stdin/stdout) until the
// remote side reaches EOF or the context is cancelled.
func BidirectionalCopy(ctx context.Context, remote Stream, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// remote → writer
	g.Go(func() error {
		defer cancel()
		_, err := copyBuffered(w, remote)
		if isHarmless(err) {
			return nil
		}
		return err
	})

	// reader → remote
	g.Go(func() error {
		_, err := copyBuffered(remote, r)
		// Half-close so the peer knows we're done sending, but keep
		// reading until it finishes.
		remote.CloseWrite() //nolint:errcheck
		if isHarmless(err) {
			return nil
		}
		return err
	})

	go func() {
		<-gctx.Done()
		remote.Close() //nolint:errcheck // unblock any pending reads/writes
	}()

	return g.Wait()
}

func copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	// Writes racing a local close.
	if errors.Is(err, ncerr.NewSocketError(ncerr.MsgWriteAfterClose, nil)) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
