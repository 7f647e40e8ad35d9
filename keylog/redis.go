package keylog

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis shares the log across processes and survives restarts. Cache names live in
// one sorted set scored by creation seq; each cache is a sorted set of keys scored
// by insertion seq. Seqs come from a single INCR counter.
// Scores are float64, so seqs stay exact up to 2^53 insertions.
type Redis struct {
	rdb         redis.UniversalClient
	ns          string
	closeClient bool
}

var _ KeyLog = (*Redis)(nil)

// NewRedis creates a Redis-backed key log under namespace. Set closeClient only if
// the log exclusively owns client.
func NewRedis(client redis.UniversalClient, namespace string, closeClient bool) *Redis {
	return &Redis{rdb: client, ns: namespace, closeClient: closeClient}
}

func (r *Redis) seqKey() string               { return "keylog:" + r.ns + ":seq" }
func (r *Redis) cachesKey() string            { return "keylog:" + r.ns + ":caches" }
func (r *Redis) cacheKey(cache string) string { return "keylog:" + r.ns + ":c:" + cache }

func (r *Redis) Create(ctx context.Context, cache string) error {
	if _, err := r.rdb.ZScore(ctx, r.cachesKey(), cache).Result(); err == nil {
		return nil
	} else if !errors.Is(err, redis.Nil) {
		return err
	}
	seq, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return err
	}
	// NX keeps the original creation seq if another process won the race
	return r.rdb.ZAddNX(ctx, r.cachesKey(), redis.Z{Score: float64(seq), Member: cache}).Err()
}

func (r *Redis) Caches(ctx context.Context) ([]string, error) {
	return r.rdb.ZRange(ctx, r.cachesKey(), 0, -1).Result()
}

func (r *Redis) Drop(ctx context.Context, cache string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, r.cachesKey(), cache)
		p.Del(ctx, r.cacheKey(cache))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

// appendScript checks registration, takes a seq and logs the key atomically,
// so a concurrent Drop cannot be undone by a late Append.
// KEYS: caches, cache, seq. ARGV: cache name, key. Returns -1 if unregistered.
var appendScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return -1
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[2])
return seq
`)

func (r *Redis) Append(ctx context.Context, cache, key string) (uint64, error) {
	seq, err := appendScript.Run(ctx, r.rdb,
		[]string{r.cachesKey(), r.cacheKey(cache), r.seqKey()}, cache, key,
	).Int64()
	if err != nil {
		return 0, err
	}
	if seq < 0 {
		return 0, ErrNoCache
	}
	return uint64(seq), nil
}

func (r *Redis) Seq(ctx context.Context, cache, key string) (uint64, bool, error) {
	score, err := r.rdb.ZScore(ctx, r.cacheKey(cache), key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(score), true, nil
}

func (r *Redis) Keys(ctx context.Context, cache string) ([]string, error) {
	return r.rdb.ZRange(ctx, r.cacheKey(cache), 0, -1).Result()
}

func (r *Redis) Remove(ctx context.Context, cache, key string) (bool, error) {
	n, err := r.rdb.ZRem(ctx, r.cacheKey(cache), key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the underlying Redis client when the log owns it.
func (r *Redis) Close(context.Context) error {
	if !r.closeClient {
		return nil
	}
	if err := r.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
