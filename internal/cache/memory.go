package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sells-group/quote-sourcing/internal/model"
)

type shard struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry
}

// Memory is an in-process cache sharded by key to limit lock contention.
// Expired entries are dropped lazily on access.
type Memory struct {
	ttl     time.Duration
	shards  []*shard
	nowFunc func() time.Time
}

// NewMemory creates a memory cache. Non-positive ttl or shards use defaults.
func NewMemory(ttl time.Duration, shards int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if shards <= 0 {
		shards = 16
	}
	m := &Memory{ttl: ttl, shards: make([]*shard, shards), nowFunc: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]*model.CacheEntry)}
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (model.CacheEntry, bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return model.CacheEntry{}, false, nil
	}
	if !m.nowFunc().Before(e.ExpiresAt) {
		delete(s.entries, key)
		return model.CacheEntry{}, false, nil
	}
	e.HitCount++
	return *e, true, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, q model.Quote) error {
	now := m.nowFunc()
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &model.CacheEntry{
		Key:       key,
		Quote:     q,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	return nil
}

// Stats implements Cache. Expired entries are purged and not counted.
func (m *Memory) Stats(_ context.Context) (model.CacheStats, error) {
	now := m.nowFunc()
	var st model.CacheStats
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if !now.Before(e.ExpiresAt) {
				delete(s.entries, key)
				continue
			}
			st.TotalEntries++
			st.TotalHits += e.HitCount
			created := e.CreatedAt
			if st.OldestEntry == nil || created.Before(*st.OldestEntry) {
				st.OldestEntry = &created
			}
			if st.NewestEntry == nil || created.After(*st.NewestEntry) {
				c := created
				st.NewestEntry = &c
			}
		}
		s.mu.Unlock()
	}
	return st, nil
}

// Clear implements Cache.
func (m *Memory) Clear(_ context.Context) (int, error) {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.entries = make(map[string]*model.CacheEntry)
		s.mu.Unlock()
	}
	return n, nil
}
