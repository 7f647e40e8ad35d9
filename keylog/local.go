package keylog

import (
	"context"
	"sort"
	"sync"
)

type localCache struct {
	created uint64
	seqs    map[string]uint64
}

// Local keeps the log in-process (default).
type Local struct {
	mu     sync.RWMutex
	caches map[string]*localCache
	seq    uint64
}

var _ KeyLog = (*Local)(nil)

func NewLocal() *Local {
	return &Local{caches: make(map[string]*localCache)}
}

// create must be called with mu held.
func (l *Local) create(cache string) *localCache {
	c, ok := l.caches[cache]
	if !ok {
		l.seq++
		c = &localCache{created: l.seq, seqs: make(map[string]uint64)}
		l.caches[cache] = c
	}
	return c
}

func (l *Local) Create(_ context.Context, cache string) error {
	l.mu.Lock()
	l.create(cache)
	l.mu.Unlock()
	return nil
}

func (l *Local) Caches(_ context.Context) ([]string, error) {
	l.mu.RLock()
	names := make([]string, 0, len(l.caches))
	for name := range l.caches {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return l.caches[names[i]].created < l.caches[names[j]].created
	})
	l.mu.RUnlock()
	return names, nil
}

func (l *Local) Drop(_ context.Context, cache string) (bool, error) {
	l.mu.Lock()
	_, ok := l.caches[cache]
	delete(l.caches, cache)
	l.mu.Unlock()
	return ok, nil
}

func (l *Local) Append(_ context.Context, cache, key string) (uint64, error) {
	l.mu.Lock()
	c, ok := l.caches[cache]
	if !ok {
		l.mu.Unlock()
		return 0, ErrNoCache
	}
	l.seq++
	c.seqs[key] = l.seq
	seq := l.seq
	l.mu.Unlock()
	return seq, nil
}

func (l *Local) Seq(_ context.Context, cache, key string) (uint64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.caches[cache]
	if !ok {
		return 0, false, nil
	}
	seq, ok := c.seqs[key]
	return seq, ok, nil
}

// Keys sorts on every call; caches hold at most a few hundred entries and Keys
// runs once per eviction pass.
func (l *Local) Keys(_ context.Context, cache string) ([]string, error) {
	l.mu.RLock()
	c, ok := l.caches[cache]
	if !ok {
		l.mu.RUnlock()
		return nil, nil
	}
	keys := make([]string, 0, len(c.seqs))
	for k := range c.seqs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return c.seqs[keys[i]] < c.seqs[keys[j]] })
	l.mu.RUnlock()
	return keys, nil
}

func (l *Local) Remove(_ context.Context, cache, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.caches[cache]
	if !ok {
		return false, nil
	}
	if _, ok := c.seqs[key]; !ok {
		return false, nil
	}
	delete(c.seqs, key)
	return true, nil
}

func (l *Local) Close(_ context.Context) error { return nil }
