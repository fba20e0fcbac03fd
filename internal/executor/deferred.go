package executor

import (
	"context"
	"sync"
)

// Deferred is an asynchronous field result. Await is safe to call from
// multiple goroutines and after completion; the settled value is memoized.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

type goDeferred struct {
	done  chan struct{}
	value any
	err   error
}

// Go starts fn immediately in its own goroutine and returns its Deferred
// result.
func Go(fn func() (any, error)) Deferred {
	d := &goDeferred{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		d.value, d.err = fn()
	}()
	return d
}

func (d *goDeferred) Await(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type lazyDeferred struct {
	once  sync.Once
	fn    func(ctx context.Context) (any, error)
	value any
	err   error
}

// Defer returns a Deferred that runs fn at first Await and memoizes the
// outcome.
func Defer(fn func(ctx context.Context) (any, error)) Deferred {
	return &lazyDeferred{fn: fn}
}

func (d *lazyDeferred) Await(ctx context.Context) (any, error) {
	d.once.Do(func() {
		d.value, d.err = d.fn(ctx)
	})
	return d.value, d.err
}

// settle drains nested Deferred layers until a plain value or error remains.
func settle(ctx context.Context, v any) (any, error) {
	for {
		d, ok := v.(Deferred)
		if !ok {
			return v, nil
		}
		var err error
		v, err = d.Await(ctx)
		if err != nil {
			return nil, err
		}
	}
}
