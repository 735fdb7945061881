package portal

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"janseva.org/internal/obs"
)

// Future is the eventual result of a portal mutation. The mutation keeps
// running when a waiter gives up; it completes exactly once.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the mutation finished or ctx ends. Giving up does not
// cancel the mutation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// start runs fn in the background. A non-empty key coalesces concurrent
// calls with the same key into one execution whose result all of them share.
func start[T any](g *singleflight.Group, op, key string, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		if key == "" {
			v, err := fn()
			f.complete(v, err)
			return
		}
		v, err, shared := g.Do(key, func() (any, error) { return fn() })
		if shared {
			obs.RecordCoalesced(op)
		}
		out, _ := v.(T)
		f.complete(out, err)
	}()
	return f
}
