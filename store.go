package offcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/offcache/codec"
	"github.com/unkn0wn-root/offcache/internal/util"
	"github.com/unkn0wn-root/offcache/internal/wire"
	"github.com/unkn0wn-root/offcache/keylog"
	pr "github.com/unkn0wn-root/offcache/provider"
)

// Storage is the set of named caches the engine works against.
type Storage interface {
	// Open returns the named cache, creating it if needed.
	Open(ctx context.Context, name string) (Store, error)
	// Names lists existing caches in creation order.
	Names(ctx context.Context) ([]string, error)
	// Delete removes a cache and all of its entries. Reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Store is one named key -> response mapping with insertion order.
type Store interface {
	Name() string
	Match(ctx context.Context, key string) (*Response, bool, error)
	// Put replaces any entry under key; the key becomes the newest.
	Put(ctx context.Context, key string, resp *Response) error
	// Keys returns keys oldest first.
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// SetCostFunc computes the provider cost of a stored entry.
type SetCostFunc func(key string, raw []byte) int64

// StorageOptions configure a CacheStorage. Only Provider is required.
type StorageOptions struct {
	Provider pr.Provider
	KeyLog   keylog.KeyLog         // nil => keylog.NewLocal()
	Codec    codec.Codec[Snapshot] // nil => codec.Msgpack[Snapshot]
	TTL      time.Duration         // 0 => entries never expire
	Prefix   string                // provider key prefix; "" => "entry"
	Cost     SetCostFunc           // nil => len(raw)
	Logger   Logger                // nil => NopLogger
	Hooks    Hooks                 // nil => NopHooks
	Now      func() time.Time      // nil => time.Now
}

// CacheStorage implements Storage over a byte provider, a key log for names and
// order, and a snapshot codec.
type CacheStorage struct {
	provider pr.Provider
	keys     keylog.KeyLog
	codec    codec.Codec[Snapshot]
	ttl      time.Duration
	prefix   string
	cost     SetCostFunc
	log      Logger
	hooks    Hooks
	now      func() time.Time
}

var _ Storage = (*CacheStorage)(nil)

func NewStorage(opts StorageOptions) (*CacheStorage, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("offcache: provider is required")
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("offcache: negative ttl %s", opts.TTL)
	}
	s := &CacheStorage{
		provider: opts.Provider,
		keys:     opts.KeyLog,
		codec:    opts.Codec,
		ttl:      opts.TTL,
		prefix:   coalesce(opts.Prefix, defaultEntryPrefix),
		cost:     opts.Cost,
		log:      opts.Logger,
		hooks:    opts.Hooks,
		now:      opts.Now,
	}
	if s.keys == nil {
		s.keys = keylog.NewLocal()
	}
	if s.codec == nil {
		s.codec = codec.Msgpack[Snapshot]{}
	}
	if s.cost == nil {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if s.log == nil {
		s.log = NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *CacheStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("offcache: empty cache name")
	}
	if err := s.keys.Create(ctx, name); err != nil {
		return nil, fmt.Errorf("offcache: open %q: %w", name, err)
	}
	return &namedCache{s: s, name: name}, nil
}

func (s *CacheStorage) Names(ctx context.Context) ([]string, error) {
	return s.keys.Caches(ctx)
}

// Delete removes the values of every logged key, then forgets the cache.
// Values the provider fails to delete are left to expire or be overwritten.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	keys, err := s.keys.Keys(ctx, name)
	if err != nil {
		return false, fmt.Errorf("offcache: delete %q: %w", name, err)
	}
	for _, k := range keys {
		if err := s.provider.Del(ctx, s.storageKey(name, k)); err != nil {
			s.log.Warn("value delete failed", Fields{"cache": name, "key": k, "err": err})
		}
	}
	existed, err := s.keys.Drop(ctx, name)
	if err != nil {
		return false, fmt.Errorf("offcache: delete %q: %w", name, err)
	}
	return existed, nil
}

// Close releases the key log and the provider.
func (s *CacheStorage) Close(ctx context.Context) error {
	return errors.Join(s.keys.Close(ctx), s.provider.Close(ctx))
}

func (s *CacheStorage) storageKey(cache, key string) string {
	return util.StorageKey(s.prefix, cache, key)
}

type namedCache struct {
	s    *CacheStorage
	name string
}

var _ Store = (*namedCache)(nil)

func (c *namedCache) Name() string { return c.name }

func (c *namedCache) Match(ctx context.Context, key string) (*Response, bool, error) {
	seq, logged, err := c.s.keys.Seq(ctx, c.name, key)
	if err != nil {
		return nil, false, fmt.Errorf("offcache: match %q: %w", c.name, err)
	}
	if !logged {
		return nil, false, nil
	}

	sk := c.s.storageKey(c.name, key)
	raw, ok, err := c.s.provider.Get(ctx, sk)
	if err != nil {
		return nil, false, fmt.Errorf("offcache: match %q: %w", c.name, err)
	}
	if !ok {
		// provider dropped the value; the log entry would count against the limit forever
		c.heal(ctx, key, "vanished", false)
		return nil, false, nil
	}

	gotSeq, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		c.heal(ctx, key, "corrupt", true)
		return nil, false, nil
	}
	switch {
	case gotSeq < seq:
		// a newer put is still writing its value
		return nil, false, nil
	case gotSeq > seq:
		c.heal(ctx, key, "seq_ahead", true)
		return nil, false, nil
	}

	snap, err := c.s.codec.Decode(payload)
	if err != nil {
		c.heal(ctx, key, "decode", true)
		return nil, false, nil
	}
	return snap.Response(), true, nil
}

func (c *namedCache) heal(ctx context.Context, key, reason string, delValue bool) {
	if delValue {
		_ = c.s.provider.Del(ctx, c.s.storageKey(c.name, key))
	}
	_, _ = c.s.keys.Remove(ctx, c.name, key)
	c.s.hooks.SelfHeal(c.name, key, reason)
	c.s.log.Warn("cache entry dropped on read", Fields{"cache": c.name, "key": key, "reason": reason})
}

func (c *namedCache) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return fmt.Errorf("offcache: put %q: nil response", key)
	}
	payload, err := c.s.codec.Encode(snapshotOf(resp, c.s.now()))
	if err != nil {
		return fmt.Errorf("offcache: encode %q: %w", key, err)
	}

	seq, err := c.s.keys.Append(ctx, c.name, key)
	if errors.Is(err, keylog.ErrNoCache) {
		return fmt.Errorf("%w: %q", ErrNoCache, c.name)
	}
	if err != nil {
		return fmt.Errorf("offcache: put %q: %w", c.name, err)
	}

	sk := c.s.storageKey(c.name, key)
	raw := wire.EncodeEntry(seq, payload)
	ok, err := c.s.provider.Set(ctx, sk, raw, c.s.cost(sk, raw), c.s.ttl)
	if err != nil {
		_, _ = c.s.keys.Remove(ctx, c.name, key)
		_ = c.s.provider.Del(ctx, sk)
		return fmt.Errorf("offcache: put %q: %w", c.name, err)
	}
	if !ok {
		_, _ = c.s.keys.Remove(ctx, c.name, key)
		c.s.hooks.ProviderSetRejected(c.name, key)
		c.s.log.Debug("provider rejected entry", Fields{"cache": c.name, "key": key, "size": len(raw)})
	}
	return nil
}

func (c *namedCache) Keys(ctx context.Context) ([]string, error) {
	return c.s.keys.Keys(ctx, c.name)
}

func (c *namedCache) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := c.s.keys.Remove(ctx, c.name, key)
	if err != nil {
		return false, fmt.Errorf("offcache: delete %q: %w", key, err)
	}
	if err := c.s.provider.Del(ctx, c.s.storageKey(c.name, key)); err != nil {
		return removed, fmt.Errorf("offcache: delete %q: %w", key, err)
	}
	return removed, nil
}
