package socket

import (
	"context"
	"io"
)

// Readable is the inbound half of a Socket.  Reads block until the
// socket has opened; only one read is in flight at a time.
type Readable struct {
	c *controller
}

var _ io.Reader = (*Readable)(nil)

// ReadChunk returns the next chunk of bytes exactly as the transport
// delivered it, or io.EOF once the peer has finished sending (or the
// socket was closed or upgraded).  Any other error is a *SocketError.
func (r *Readable) ReadChunk(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := r.c.readStream(ctx)
	if err != nil {
		return nil, err
	}
	return b.readChunk(ctx)
}

// Read implements io.Reader.
func (r *Readable) Read(p []byte) (int, error) {
	ctx := context.Background()
	b, err := r.c.readStream(ctx)
	if err != nil {
		return 0, err
	}
	return b.read(ctx, p)
}

// ReadAll reads until end-of-stream.
func (r *Readable) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		chunk, err := r.ReadChunk(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
}
