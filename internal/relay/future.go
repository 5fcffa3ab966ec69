// ABOUTME: Single-assignment future used to hand a not-yet-available value
// ABOUTME: from an unrelated inbound message back to the original caller.

package relay

import (
	"context"
	"sync"
)

// Future holds a value that will arrive later, typically carried by an
// inbound message that references the request's correlation id. A Future is
// completed at most once; every completion after the first is a no-op, so
// duplicate or late replies are always safe.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve completes the future successfully. No-op if already completed.
func (f *Future[T]) resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

// fail completes the future with an error. No-op if already completed.
func (f *Future[T]) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or the context is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
