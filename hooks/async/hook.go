// Package asynchook moves offcache hook calls off the request path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	eng, _ := offcache.New(offcache.Options{Storage: st, Fetcher: f, Hooks: hooks})
//
// Events are dropped, not queued unboundedly, when the sink falls behind;
// Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/offcache"
)

type Hooks struct {
	inner   offcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ offcache.Hooks = (*Hooks)(nil)

func New(inner offcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(cache, key, reason string) {
	h.try(func() { h.inner.SelfHeal(cache, key, reason) })
}
func (h *Hooks) ProviderSetRejected(cache, key string) {
	h.try(func() { h.inner.ProviderSetRejected(cache, key) })
}
func (h *Hooks) Evicted(cache string, n int) { h.try(func() { h.inner.Evicted(cache, n) }) }
func (h *Hooks) InstallAborted(version string, err error) {
	h.try(func() { h.inner.InstallAborted(version, err) })
}
func (h *Hooks) GenerationActivated(version string, deleted []string) {
	deleted = append([]string(nil), deleted...)
	h.try(func() { h.inner.GenerationActivated(version, deleted) })
}
func (h *Hooks) BroadcastDropped(id uint64, msgType string) {
	h.try(func() { h.inner.BroadcastDropped(id, msgType) })
}
func (h *Hooks) PushDropped(reason string) { h.try(func() { h.inner.PushDropped(reason) }) }
