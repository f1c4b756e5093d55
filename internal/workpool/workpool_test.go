package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunExecutesEveryTask(t *testing.T) {
	p := New(4, NullReporter{})
	var n atomic.Int64

	tasks := make([]Task, 50)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n.Add(1)
			return nil
		}
	}

	if err := p.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := n.Load(); got != 50 {
		t.Fatalf("ran %d tasks, want 50", got)
	}
}

func TestRunCancelsOnFirstError(t *testing.T) {
	p := New(2, NullReporter{})
	sentinel := errors.New("boom")

	var started atomic.Int64
	tasks := make([]Task, 200)
	tasks[0] = func(ctx context.Context) error { return sentinel }
	for i := 1; i < len(tasks); i++ {
		tasks[i] = func(ctx context.Context) error {
			started.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}
	}

	err := p.Run(context.Background(), tasks)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Run error = %v, want sentinel", err)
	}
	// Cancellation should prevent the full 199 remaining tasks from ever
	// being scheduled past the semaphore.
	if got := started.Load(); got >= int64(len(tasks)-1) {
		t.Fatalf("started %d of %d tasks, expected early cancellation to cut this short", got, len(tasks)-1)
	}
}

func TestImageDownloadGateSerializes(t *testing.T) {
	gate := NewImageDownloadGate()
	var inFlight atomic.Int32
	var maxSeen atomic.Int32

	p := New(8, NullReporter{})
	tasks := make([]Task, 16)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			return gate.With(ctx, func() error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				return nil
			})
		}
	}

	if err := p.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := maxSeen.Load(); got != 1 {
		t.Fatalf("max concurrent gated calls = %d, want 1", got)
	}
}
