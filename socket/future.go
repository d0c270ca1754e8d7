package socket

import (
	"context"
	"sync"
)

// Future is a value that becomes available exactly once, either as a
// result or as an error.  The zero value is not usable; futures are
// created by the socket itself.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// settle records the outcome.  Only the first call has any effect; it
// reports whether this call was the one that settled the future.
func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Future[T]) resolve(v T) bool { return f.settle(v, nil) }

func (f *Future[T]) reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx ends.  A settled future
// returns its outcome even when ctx is already done.  A nil ctx waits
// indefinitely.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		<-f.done
		return f.val, f.err
	}
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking.  ok is false while the
// future is still pending.
func (f *Future[T]) Result() (v T, err error, ok bool) { //nolint:staticcheck // ok mirrors map lookups
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		return v, nil, false
	}
}
