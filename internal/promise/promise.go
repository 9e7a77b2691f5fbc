// Package promise provides a one-shot result cell for handing a value
// from the goroutine that produces it to the single goroutine waiting
// for it.
package promise

import (
	"context"
	"errors"
	"sync"
)

// ErrConsumed is returned by Await when the result was already taken
var ErrConsumed = errors.New("promise: result already consumed")

type result[T any] struct {
	value T
	err   error
}

// Promise is resolved exactly once and observed by at most one caller.
// It is not a broadcast mechanism: the first successful Await takes the
// result and later calls get ErrConsumed.
type Promise[T any] struct {
	ch       chan result[T]
	done     chan struct{}
	resolve  sync.Once
	consumed chan struct{}
	take     sync.Once
}

// New creates a pending promise
func New[T any]() *Promise[T] {
	return &Promise[T]{
		ch:       make(chan result[T], 1),
		done:     make(chan struct{}),
		consumed: make(chan struct{}),
	}
}

// Resolve stores the result and wakes the waiting caller, if any.
// It never blocks. Only the first call has an effect; it returns false
// for every later call.
func (p *Promise[T]) Resolve(value T, err error) bool {
	resolved := false
	p.resolve.Do(func() {
		p.ch <- result[T]{value: value, err: err}
		close(p.done)
		resolved = true
	})
	return resolved
}

// Fail resolves the promise with the zero value and err
func (p *Promise[T]) Fail(err error) bool {
	var zero T
	return p.Resolve(zero, err)
}

// Await suspends until the promise is resolved or ctx is done.
// If ctx ends first the caller walks away and the result, when it
// arrives, is dropped.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case r := <-p.ch:
		p.take.Do(func() { close(p.consumed) })
		return r.value, r.err
	case <-p.consumed:
		return zero, ErrConsumed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Done is closed once the promise has been resolved.
// Selecting on it does not consume the result.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// TryAwait returns the result without blocking.
// ready is false while the promise is still pending.
func (p *Promise[T]) TryAwait() (value T, ready bool, err error) {
	select {
	case r := <-p.ch:
		p.take.Do(func() { close(p.consumed) })
		return r.value, true, r.err
	case <-p.consumed:
		return value, true, ErrConsumed
	default:
		return value, false, nil
	}
}
