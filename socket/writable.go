package socket

import (
	"context"
	"io"
)

// Writable is the outbound half of a Socket.  A write returns once the
// transport has accepted every byte, which is what throttles a fast
// producer.
type Writable struct {
	c *controller
}

var _ io.WriteCloser = (*Writable)(nil)

// Write implements io.Writer.  Writing after the socket has been closed
// or upgraded fails with a *SocketError.
func (w *Writable) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext is Write with cancellation.  A write abandoned through
// ctx may have been partially sent.
func (w *Writable) WriteContext(ctx context.Context, p []byte) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := w.c.writeStream(ctx)
	if err != nil {
		return 0, err
	}
	return b.write(ctx, p)
}

// WriteString writes s.
func (w *Writable) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Close half-closes the connection: the peer sees end-of-stream while
// this side keeps reading.  It does not close the socket.
func (w *Writable) Close() error {
	b, err := w.c.writeStream(context.Background())
	if err != nil {
		return err
	}
	return b.closeWrite()
}
