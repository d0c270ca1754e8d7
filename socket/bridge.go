package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	ncerr "tcpsock/internal/errors"
	"tcpsock/internal/transport"
	"tcpsock/metrics"
	"tcpsock/util"
)

// aLongTimeAgo is a deadline that has already passed.
var aLongTimeAgo = time.Unix(1, 0)

type readResult struct {
	data []byte
	err  error
}

// bridge is the only code that performs I/O on its conn.  Reads are
// demand driven: the pump goroutine sits idle until a reader asks for
// data, performs one conn.Read, parks the chunk in a single-slot
// channel and goes idle again.  Writes go straight to conn.Write under
// a mutex, so the transport's own blocking is the backpressure.
type bridge struct {
	conn    net.Conn
	log     *util.Logger
	metrics *metrics.Collector

	onEnd   func()      // peer finished sending
	onError func(error) // transport failure on either direction

	demand  chan struct{}   // cap 1
	results chan readResult // cap 1
	quit    chan struct{}
	stopped chan struct{}
	pump    conc.WaitGroup

	detaching  atomic.Bool
	closing    atomic.Bool
	sawEOF     atomic.Bool
	detachOnce sync.Once
	residual   []byte

	readMu   sync.Mutex
	demanded bool
	pending  []byte
	readErr  error

	writeMu    sync.Mutex
	writeErr   error
	halfClosed bool
}

func newBridge(conn net.Conn, log *util.Logger, m *metrics.Collector, onEnd func(), onError func(error)) *bridge {
	b := &bridge{
		conn:    conn,
		log:     log,
		metrics: m,
		onEnd:   onEnd,
		onError: onError,
		demand:  make(chan struct{}, 1),
		results: make(chan readResult, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	b.pump.Go(b.run)
	return b
}

// run is the read pump.  The results slot is always empty while the
// pump holds a demand token, so sends never block.
func (b *bridge) run() {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	var stashed error
	for {
		select {
		case <-b.quit:
			return
		case <-b.demand:
		}

		if stashed != nil {
			b.results <- readResult{err: stashed}
			b.finish(stashed)
			return
		}

		n, err := b.conn.Read(*buf)
		for n == 0 && err == nil {
			n, err = b.conn.Read(*buf)
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, (*buf)[:n])
			b.results <- readResult{data: chunk}
		}
		if err == nil {
			continue
		}
		if b.detaching.Load() {
			return
		}
		if n > 0 {
			stashed = err
			continue
		}
		b.results <- readResult{err: err}
		b.finish(err)
		return
	}
}

func (b *bridge) finish(err error) {
	if errors.Is(err, io.EOF) {
		b.sawEOF.Store(true)
		b.log.Debug("peer finished sending")
		if b.onEnd != nil {
			b.onEnd()
		}
		return
	}
	b.log.Debug("read failed: %v", err)
	if b.onError != nil {
		b.onError(err)
	}
}

// readChunk returns the next chunk the transport produced.
func (b *bridge) readChunk(ctx context.Context) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	if len(b.pending) > 0 {
		p := b.pending
		b.pending = nil
		return p, nil
	}
	return b.pull(ctx)
}

// read copies into p, keeping the unread remainder of a chunk for the
// next call.
func (b *bridge) read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.readMu.Lock()
	defer b.readMu.Unlock()

	if len(b.pending) == 0 {
		chunk, err := b.pull(ctx)
		if err != nil {
			return 0, err
		}
		b.pending = chunk
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

// pull must be called with readMu held.  A pull abandoned through ctx
// leaves its demand outstanding; the next pull collects the result.
func (b *bridge) pull(ctx context.Context) ([]byte, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	if !b.demanded {
		b.demanded = true
		b.demand <- struct{}{}
	}
	select {
	case r := <-b.results:
		b.demanded = false
		if r.err != nil {
			b.readErr = streamError(r.err)
			return nil, b.readErr
		}
		b.metrics.BytesReceived(int64(len(r.data)))
		return r.data, nil
	case <-b.stopped:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// streamError keeps io.EOF as the end-of-stream marker and turns every
// other transport error into a SocketError.
func streamError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return ncerr.FromCause(err)
}

// detach stops the pump without closing conn and returns the bytes
// that were read off the wire but never handed to a reader.  Readers
// see io.EOF from then on.
func (b *bridge) detach() []byte {
	b.detachOnce.Do(func() {
		b.detaching.Store(true)
		b.conn.SetReadDeadline(aLongTimeAgo) //nolint:errcheck
		close(b.quit)
		b.pump.Wait()
		b.conn.SetReadDeadline(time.Time{}) //nolint:errcheck
		close(b.stopped)

		b.readMu.Lock()
		residual := b.pending
		select {
		case r := <-b.results:
			residual = append(residual, r.data...)
		default:
		}
		b.pending = nil
		if b.readErr == nil {
			b.readErr = io.EOF
		}
		b.readMu.Unlock()

		b.residual = residual
		if len(residual) > 0 {
			b.log.Debug("detached with %d undelivered bytes", len(residual))
		}
	})
	return b.residual
}

// write forwards p to the transport.  ctx may be nil.
func (b *bridge) write(ctx context.Context, p []byte) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.writeErr != nil {
		return 0, b.writeErr
	}

	if ctx != nil && ctx.Done() != nil {
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			b.conn.SetWriteDeadline(aLongTimeAgo) //nolint:errcheck
			close(fired)
		})
		defer func() {
			if !stop() {
				<-fired
				b.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
			}
		}()
	}

	n, err := b.conn.Write(p)
	b.metrics.BytesSent(int64(n))
	if err == nil {
		return n, nil
	}
	if ctx != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	if b.closing.Load() {
		return n, NewSocketError(MsgWriteAfterClose, err)
	}
	se := ncerr.FromCause(err)
	b.writeErr = se
	b.log.Debug("write failed: %v", err)
	if b.onError != nil {
		b.onError(err)
	}
	return n, se
}

// closeWrite half-closes the transport.  Later writes fail; reads
// continue until the peer finishes.
func (b *bridge) closeWrite() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.halfClosed {
		return nil
	}
	if b.writeErr != nil {
		return b.writeErr
	}
	b.halfClosed = true
	b.writeErr = NewSocketError(MsgWriteAfterClose, ncerr.ErrSocketClosed)
	if _, err := transport.CloseWrite(b.conn); err != nil {
		return ncerr.FromCause(err)
	}
	return nil
}

// retire refuses every later write with err.  Used when the conn has
// been handed to a new owner.
func (b *bridge) retire(err error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.writeErr = err
}

// shutdown tears the transport down: pending reads settle, the write
// side is half-closed, incoming data is discarded until the peer
// finishes or timeout passes, and conn is closed.
func (b *bridge) shutdown(timeout time.Duration) {
	b.closing.Store(true)
	b.detach()

	// A write blocked on backpressure settles now; the half-close below
	// still gets the full timeout.
	b.conn.SetWriteDeadline(aLongTimeAgo) //nolint:errcheck
	b.writeMu.Lock()
	deadline := time.Now().Add(timeout)
	b.conn.SetWriteDeadline(deadline) //nolint:errcheck
	if !b.halfClosed && b.writeErr == nil {
		if _, err := transport.CloseWrite(b.conn); err != nil {
			b.log.Debug("half-close: %v", err)
		}
	}
	b.halfClosed = true
	b.writeErr = NewSocketError(MsgWriteAfterClose, ncerr.ErrSocketClosed)
	b.writeMu.Unlock()

	if !b.sawEOF.Load() {
		b.drain(deadline)
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		b.log.Debug("close: %v", err)
	}
}

func (b *bridge) drain(deadline time.Time) {
	b.conn.SetReadDeadline(deadline) //nolint:errcheck
	buf := util.GetBuf()
	defer util.PutBuf(buf)
	var discarded int
	for {
		n, err := b.conn.Read(*buf)
		discarded += n
		if err != nil {
			if discarded > 0 {
				b.log.Debug("discarded %d bytes while closing", discarded)
			}
			return
		}
	}
}
