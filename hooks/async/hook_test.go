package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/offcache"
)

type countHooks struct {
	offcache.NopHooks
	mu      sync.Mutex
	evicted int
	block   chan struct{}
}

func (c *countHooks) Evicted(_ string, n int) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted += n
}

func TestHooksDeliverThenDrainOnClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for range 10 {
		h.Evicted("dynamic-v2", 1)
	}
	h.Close()
	if inner.evicted != 10 {
		t.Fatalf("evicted = %d, want 10", inner.evicted)
	}

	h.Evicted("dynamic-v2", 1) // after close: dropped, no panic
	if h.Dropped() != 1 {
		t.Fatalf("dropped = %d", h.Dropped())
	}
}

func TestHooksDropWhenQueueFull(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// one event held by the worker, one queued, the rest dropped
	for range 5 {
		h.Evicted("api-v2", 1)
	}
	close(inner.block)
	h.Close()

	if got := inner.evicted + int(h.Dropped()); got != 5 {
		t.Fatalf("delivered+dropped = %d, want 5", got)
	}
	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}
}
