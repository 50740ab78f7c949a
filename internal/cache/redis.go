package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Redis shares cached quotes between processes. Each entry is a JSON value
// with a native expiry; hits are counted in a sibling key. Both keys carry
// the lookup key as a hash tag so they share a cluster slot, and no command
// spans more than one slot.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRedis creates a Redis-backed cache. prefix namespaces all keys.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "quote:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, nowFunc: time.Now}
}

func (r *Redis) entryKey(key string) string { return r.prefix + "entry:{" + key + "}" }
func (r *Redis) hitsKey(key string) string  { return r.prefix + "hits:{" + key + "}" }

// hitsKeyFor maps a scanned entry key to its hit counter.
func (r *Redis) hitsKeyFor(entryKey string) string {
	return r.prefix + "hits:" + strings.TrimPrefix(entryKey, r.prefix+"entry:")
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (model.CacheEntry, bool, error) {
	data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, eris.Wrap(err, "cache: redis get")
	}
	var e model.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return model.CacheEntry{}, false, eris.Wrap(err, "cache: decode entry")
	}
	if !r.nowFunc().Before(e.ExpiresAt) {
		return model.CacheEntry{}, false, nil
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, r.hitsKey(key))
	pipe.ExpireAt(ctx, r.hitsKey(key), e.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.CacheEntry{}, false, eris.Wrap(err, "cache: redis count hit")
	}
	e.HitCount = int(incr.Val())
	return e, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, q model.Quote) error {
	now := r.nowFunc()
	e := model.CacheEntry{Key: key, Quote: q, CreatedAt: now, ExpiresAt: now.Add(r.ttl)}
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "cache: encode entry")
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(key), data, r.ttl)
	pipe.Del(ctx, r.hitsKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "cache: redis put")
	}
	return nil
}

// Stats implements Cache.
func (r *Redis) Stats(ctx context.Context) (model.CacheStats, error) {
	var st model.CacheStats
	keys, err := r.scan(ctx, r.prefix+"entry:*")
	if err != nil {
		return st, err
	}
	if len(keys) == 0 {
		return st, nil
	}

	entries := make([]*redis.StringCmd, len(keys))
	hits := make([]*redis.StringCmd, len(keys))
	_, _ = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			entries[i] = p.Get(ctx, k)
			hits[i] = p.Get(ctx, r.hitsKeyFor(k))
		}
		return nil
	})

	now := r.nowFunc()
	for i := range keys {
		data, err := entries[i].Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return model.CacheStats{}, eris.Wrap(err, "cache: redis read entry")
		}
		var e model.CacheEntry
		if err := json.Unmarshal(data, &e); err != nil || !now.Before(e.ExpiresAt) {
			continue
		}
		st.TotalEntries++
		n, err := hits[i].Int()
		switch {
		case err == nil:
			st.TotalHits += n
		case !errors.Is(err, redis.Nil):
			return model.CacheStats{}, eris.Wrap(err, "cache: redis read hits")
		}
		created := e.CreatedAt
		if st.OldestEntry == nil || created.Before(*st.OldestEntry) {
			st.OldestEntry = &created
		}
		if st.NewestEntry == nil || created.After(*st.NewestEntry) {
			c := created
			st.NewestEntry = &c
		}
	}
	return st, nil
}

// Clear implements Cache. Keys are deleted one per command.
func (r *Redis) Clear(ctx context.Context) (int, error) {
	entries, err := r.scan(ctx, r.prefix+"entry:*")
	if err != nil {
		return 0, err
	}
	hits, err := r.scan(ctx, r.prefix+"hits:*")
	if err != nil {
		return 0, err
	}
	if len(entries)+len(hits) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, len(entries))
	if _, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range entries {
			dels[i] = p.Del(ctx, k)
		}
		for _, k := range hits {
			p.Del(ctx, k)
		}
		return nil
	}); err != nil {
		return 0, eris.Wrap(err, "cache: redis clear")
	}
	removed := 0
	for _, d := range dels {
		removed += int(d.Val())
	}
	return removed, nil
}

// scan collects keys matching match. On a cluster every master is scanned.
func (r *Redis) scan(ctx context.Context, match string) ([]string, error) {
	cluster, ok := r.client.(*redis.ClusterClient)
	if !ok {
		return scanNode(ctx, r.client, match)
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		found, err := scanNode(ctx, node, match)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, found...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func scanNode(ctx context.Context, c redis.Cmdable, match string) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, match, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrapf(err, "cache: redis scan %s", match)
	}
	return keys, nil
}
