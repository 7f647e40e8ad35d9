// Package ristretto stores cached responses in an admission-controlled
// in-process cache. Admission may refuse a write; offcache treats that as a
// rejected Put and keeps serving from the network.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/offcache/provider"
)

type Provider struct {
	c       *rc.Cache
	metrics bool
}

var (
	_ pr.Provider      = (*Provider)(nil)
	_ pr.StatsReporter = (*Provider)(nil)
)

// Config sizes the cache by cost, where cost is the encoded entry length.
type Config struct {
	MaxCost     int64 // required
	NumCounters int64 // 0 => MaxCost/100, assuming ~1 KiB responses ten times over
	BufferItems int64 // 0 => 64
	Metrics     bool  // enables Stats
}

func New(cfg Config) (*Provider, error) {
	if cfg.MaxCost <= 0 {
		return nil, errors.New("ristretto: max cost is required")
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = max(cfg.MaxCost/100, 1000)
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, metrics: cfg.Metrics}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for ristretto's buffers to flush. The key log is written before
// the value and a logged key without a value reads as evicted, so an accepted
// write must be visible when Set returns.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if !p.c.SetWithTTL(key, value, cost, max(ttl, 0)) {
		return false, nil
	}
	p.c.Wait()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Stats is zero unless Config.Metrics was set.
func (p *Provider) Stats() pr.Stats {
	if !p.metrics || p.c.Metrics == nil {
		return pr.Stats{}
	}
	m := p.c.Metrics
	return pr.Stats{
		Hits:     m.Hits(),
		Misses:   m.Misses(),
		Rejected: m.SetsRejected() + m.SetsDropped(),
		Entries:  int(m.KeysAdded() - m.KeysEvicted()),
	}
}
