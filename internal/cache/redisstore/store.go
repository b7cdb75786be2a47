// Package redisstore is the Redis backend of the cell cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/rolzie-7/Bin-map/internal/cache/keys"
	"github.com/rolzie-7/Bin-map/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

type Store struct {
	rdb *redis.Client
}

// New connects and pings; a store that cannot answer a ping is not returned.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	s := &Store{rdb: redis.NewClient(ro)}
	if err := s.Ping(ctx); err != nil {
		_ = s.rdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// GenTTL bounds how long an invalidation token is remembered. It only has
// to outlive a single cache fill.
const GenTTL = time.Hour

// setIfGen writes a cell entry only while its invalidation token still
// matches the one read before the fill. KEYS are (entry, gen) pairs; ARGV[1]
// is the TTL in ms, followed by (token, payload) pairs.
var setIfGen = redis.NewScript(`
local n = 0
for i = 1, #KEYS / 2 do
  local gen = redis.call('GET', KEYS[2 * i]) or ''
  if gen == ARGV[2 * i] then
    redis.call('SET', KEYS[2 * i - 1], ARGV[2 * i + 1], 'PX', ARGV[1])
    n = n + 1
  end
end
return n
`)

// MGetWithGens reads cell entries together with their invalidation tokens in
// one round trip. vals holds only the entries that were present; gens has a
// token for every key, "" when the cell was never invalidated.
func (s *Store) MGetWithGens(ctx context.Context, cellKeys []string) (vals map[string][]byte, gens map[string]string, err error) {
	if len(cellKeys) == 0 {
		return map[string][]byte{}, map[string]string{}, nil
	}
	all := make([]string, 0, 2*len(cellKeys))
	all = append(all, cellKeys...)
	for _, k := range cellKeys {
		all = append(all, keys.GenKey(k))
	}

	start := time.Now()
	res, err := s.rdb.MGet(ctx, all...).Result()
	observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("redis MGET %d keys: %w", len(all), err)
	}

	vals = make(map[string][]byte, len(cellKeys))
	gens = make(map[string]string, len(cellKeys))
	for i, k := range cellKeys {
		if b, ok := asBytes(res[i]); ok {
			vals[k] = b
		}
		g, _ := asBytes(res[len(cellKeys)+i])
		gens[k] = string(g)
	}
	observability.AddCacheHits(len(vals))
	observability.AddCacheMisses(len(cellKeys) - len(vals))
	return vals, gens, nil
}

func asBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return fmt.Append(nil, t), true
	}
}

// SetIfGen writes every entry whose invalidation token still equals
// gens[key] and reports how many were written. Entries invalidated since the
// token was read are dropped.
func (s *Store) SetIfGen(ctx context.Context, kv map[string][]byte, gens map[string]string, ttl time.Duration) (int, error) {
	if len(kv) == 0 {
		return 0, nil
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("guarded SET needs a positive ttl, got %v", ttl)
	}
	ks := make([]string, 0, 2*len(kv))
	args := make([]any, 0, 1+2*len(kv))
	args = append(args, ttl.Milliseconds())
	for k, v := range kv {
		ks = append(ks, k, keys.GenKey(k))
		args = append(args, gens[k], v)
	}

	start := time.Now()
	n, err := setIfGen.Run(ctx, s.rdb, ks, args...).Int()
	observability.ObserveCacheOp("set_if_gen", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis guarded SET %d keys: %w", len(kv), err)
	}
	return n, nil
}

// Invalidate deletes the cell entries and stamps token on each of them, so
// fills that read the cells earlier cannot write them back. It reports how
// many entries existed.
func (s *Store) Invalidate(ctx context.Context, token string, cellKeys ...string) (int64, error) {
	if len(cellKeys) == 0 {
		return 0, nil
	}
	start := time.Now()
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, cellKeys...)
		for _, k := range cellKeys {
			p.Set(ctx, keys.GenKey(k), token, GenTTL)
		}
		return nil
	})
	observability.ObserveCacheOp("invalidate", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis invalidate %d keys: %w", len(cellKeys), err)
	}
	return del.Val(), nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
