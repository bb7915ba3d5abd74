// Package async runs blocking store work off the caller's goroutine.
//
// A Pool bounds how many tasks touch the database at once. Every
// submitted task returns a Future that completes exactly once, with a
// value or an error. Callers either Wait on it or chain more work with
// Then.
package async

import (
	"context"
	"sync"
)

// Future is the eventual result of a task.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future that is already complete.
func Resolved[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(val, err)
	return f
}

func (f *Future[T]) complete(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. Giving up on
// the wait does not cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then runs fn on the result of f once it completes. Errors from f skip
// fn and pass straight through.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	next := newFuture[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			next.complete(zero, f.err)
			return
		}
		next.complete(fn(f.val))
	}()
	return next
}

// Handle runs fn on the outcome of f, value or error, and completes
// with whatever fn returns. The returned Future never fails.
func Handle[T, U any](f *Future[T], fn func(T, error) U) *Future[U] {
	next := newFuture[U]()
	go func() {
		<-f.done
		next.complete(fn(f.val, f.err), nil)
	}()
	return next
}
