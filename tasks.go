package offcache

import (
	"context"
	"fmt"
	"sync"
)

// Tasks keeps track of detached work (cache writes, revalidations, eviction)
// that must finish even when the request that started it has returned.
// Wait blocks until every started task is done.
type Tasks struct {
	log Logger

	mu     sync.Mutex
	n      int
	idle   chan struct{}
	closed bool
}

func NewTasks(log Logger) *Tasks {
	if log == nil {
		log = NopLogger{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Tasks{log: log, idle: idle}
}

// Go runs fn on its own goroutine with ctx stripped of cancellation.
// Errors and panics are logged, never propagated. Reports false once Close was called.
func (t *Tasks) Go(ctx context.Context, name string, fn func(context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer t.done()
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("background task panicked", Fields{"task": name, "panic": fmt.Sprint(r)})
			}
		}()
		if err := fn(ctx); err != nil {
			t.log.Warn("background task failed", Fields{"task": name, "err": err})
		}
	}()
	return true
}

func (t *Tasks) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

// Pending is the number of running tasks.
func (t *Tasks) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Wait blocks until no task is running or ctx is done.
func (t *Tasks) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for running ones.
func (t *Tasks) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.Wait(ctx)
}
