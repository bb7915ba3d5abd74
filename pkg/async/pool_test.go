package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/logging"
)

func TestSubmitReturnsResult(t *testing.T) {
	t.Parallel()
	p := async.NewPool(2, logging.Discard())

	f := async.Submit(p, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("Wait = %d, want 42", got)
	}
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	t.Parallel()
	const size = 3
	p := async.NewPool(size, logging.Discard())

	var running, peak atomic.Int32
	release := make(chan struct{})
	var futures []*async.Future[struct{}]
	for i := 0; i < 10; i++ {
		futures = append(futures, async.Submit(p, context.Background(), func(context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return struct{}{}, nil
		}))
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, f := range futures {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: unexpected error: %v", err)
		}
	}
	if got := peak.Load(); got > size {
		t.Errorf("peak concurrency = %d, want <= %d", got, size)
	}
}

func TestSubmitRecoversPanic(t *testing.T) {
	t.Parallel()
	p := async.NewPool(1, logging.Discard())

	f := async.Submit(p, context.Background(), func(context.Context) (int, error) {
		panic("boom")
	})
	if _, err := f.Wait(context.Background()); err == nil {
		t.Fatal("Wait: expected error from panicking task")
	}

	// The slot is released after a panic.
	g := async.Submit(p, context.Background(), func(context.Context) (int, error) { return 1, nil })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait after panic: unexpected error: %v", err)
	}
}

func TestSubmitCancelledWhileQueued(t *testing.T) {
	t.Parallel()
	p := async.NewPool(1, logging.Discard())

	block := make(chan struct{})
	started := make(chan struct{})
	first := async.Submit(p, context.Background(), func(context.Context) (int, error) {
		close(started)
		<-block
		return 0, nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queued := async.Submit(p, ctx, func(context.Context) (int, error) {
		t.Error("queued task should not run")
		return 0, nil
	})
	cancel()

	if _, err := queued.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("queued Wait error = %v, want context.Canceled", err)
	}
	close(block)
	if _, err := first.Wait(context.Background()); err != nil {
		t.Errorf("first Wait: unexpected error: %v", err)
	}
}

func TestWaitTimeoutLeavesTaskRunning(t *testing.T) {
	t.Parallel()
	p := async.NewPool(1, logging.Discard())

	release := make(chan struct{})
	f := async.Submit(p, context.Background(), func(context.Context) (string, error) {
		<-release
		return "done", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v, want DeadlineExceeded", err)
	}

	close(release)
	got, err := f.Wait(context.Background())
	if err != nil || got != "done" {
		t.Errorf("Wait = (%q, %v), want (done, nil)", got, err)
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	t.Parallel()
	p := async.NewPool(2, logging.Discard())

	var finished atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		f := async.Submit(p, context.Background(), func(context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
			return 0, nil
		})
		go func() {
			defer wg.Done()
			_, _ = f.Wait(context.Background())
		}()
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
	if got := finished.Load(); got != 4 {
		t.Errorf("finished = %d after Close, want 4", got)
	}
	wg.Wait()

	f := async.Submit(p, context.Background(), func(context.Context) (int, error) { return 1, nil })
	if _, err := f.Wait(context.Background()); !errors.Is(err, async.ErrPoolClosed) {
		t.Errorf("Submit after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestThen(t *testing.T) {
	t.Parallel()

	doubled := async.Then(async.Resolved(21, nil), func(v int) (int, error) {
		return v * 2, nil
	})
	got, err := doubled.Wait(context.Background())
	if err != nil || got != 42 {
		t.Errorf("Then = (%d, %v), want (42, nil)", got, err)
	}

	boom := errors.New("boom")
	skipped := async.Then(async.Resolved(0, boom), func(int) (string, error) {
		t.Error("fn should not run on error")
		return "", nil
	})
	if _, err := skipped.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Then error = %v, want %v", err, boom)
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	got, err := async.Handle(async.Resolved(0, boom), func(v int, err error) string {
		if err != nil {
			return "failed: " + err.Error()
		}
		return "ok"
	}).Wait(context.Background())
	if err != nil {
		t.Fatalf("Handle: unexpected error: %v", err)
	}
	if got != "failed: boom" {
		t.Errorf("Handle = %q, want %q", got, "failed: boom")
	}
}
