package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize matches the default SQLite connection cap.
const DefaultPoolSize = 8

var ErrPoolClosed = errors.New("async: pool closed")

// Pool runs tasks on goroutines, at most size at a time.
type Pool struct {
	sem *semaphore.Weighted
	log *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool. size <= 0 uses DefaultPoolSize.
func NewPool(size int, log *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		sem: semaphore.NewWeighted(int64(size)),
		log: log,
	}
}

// Submit schedules fn on p and returns its Future. The task waits for a
// free slot under ctx; if ctx ends first the Future fails with ctx.Err().
// A panic inside fn fails the Future instead of crashing the process.
func Submit[T any](p *Pool, ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		var zero T
		return Resolved(zero, ErrPoolClosed)
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	f := newFuture[T]()
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			var zero T
			f.complete(zero, err)
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				p.log.Error("task panicked", "panic", r)
				var zero T
				f.complete(zero, fmt.Errorf("async: task panicked: %v", r))
			}
		}()
		f.complete(fn(ctx))
	}()
	return f
}

// Close stops accepting work and waits for queued tasks to finish, or
// for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("async: drain pool: %w", ctx.Err())
	}
}
