// Package cache 实现向量缓存：分片锁 + LRU + 绝对 TTL + 世代号失效。
//
// 这是引擎里最热的共享可变结构，每个请求都要读写，
// 因此用分片锁避免全局锁成为吞吐瓶颈。
//
// 世代号语义：评分更新只做 Bump（世代 +1），不做硬删除。
// 持有旧世代号的在途读取可以安全完成；下一次携带新世代号的读取
// 会把陈旧条目当 miss 处理并顺手淘汰。这严格强于
// "删 key + 固定 TTL"的失效方式：新交互到达后不可能再命中旧向量。
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rushteam/vecrec/core"
)

const defaultShardCount = 16

// ShardedCache 实现 core.EmbeddingCache。
type ShardedCache struct {
	shards      []*shard
	maxPerShard int
	ttl         time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type shard struct {
	mu      sync.Mutex
	entries map[core.EntityKey]*list.Element
	lru     *list.List // 队首最新，队尾待淘汰
	gens    map[core.EntityKey]uint64
}

type cacheEntry struct {
	key        core.EntityKey
	vector     core.Vector
	generation uint64
	insertedAt time.Time
}

// Option 配置 ShardedCache。
type Option func(*options)

type options struct {
	shardCount      int
	cleanupInterval time.Duration
}

// WithShardCount 设置分片数（默认 16）。
func WithShardCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shardCount = n
		}
	}
}

// WithCleanupInterval 设置后台过期清理周期（默认 1 分钟）。
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cleanupInterval = d
		}
	}
}

// NewSharded 创建缓存。maxSize 是全局容量上限（LRU 淘汰），
// ttl 是条目绝对存活时间（到期淘汰）；两者先触发者生效。
// TTL 保证不活跃用户的向量即使被突发重复请求也会过期，
// LRU 保证冷门条目不会无限占用内存。
func NewSharded(maxSize int, ttl time.Duration, opts ...Option) *ShardedCache {
	o := options{
		shardCount:      defaultShardCount,
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize < o.shardCount {
		maxSize = o.shardCount
	}

	c := &ShardedCache{
		shards:      make([]*shard, o.shardCount),
		maxPerShard: maxSize / o.shardCount,
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries: make(map[core.EntityKey]*list.Element),
			lru:     list.New(),
			gens:    make(map[core.EntityKey]uint64),
		}
	}

	// 启动清理协程
	c.cleanupTicker = time.NewTicker(o.cleanupInterval)
	go c.cleanup()
	return c
}

func (c *ShardedCache) cleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.cleanExpired()
		case <-c.stopCleanup:
			c.cleanupTicker.Stop()
			return
		}
	}
}

func (c *ShardedCache) cleanExpired() {
	if c.ttl <= 0 {
		return
	}
	now := time.Now()
	for _, s := range c.shards {
		s.mu.Lock()
		for key, elem := range s.entries {
			e := elem.Value.(*cacheEntry)
			if now.Sub(e.insertedAt) > c.ttl {
				s.lru.Remove(elem)
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// shardFor 按 FNV-1a 把键散列到分片。
func (c *ShardedCache) shardFor(key core.EntityKey) *shard {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	h = (h ^ uint64(key.Kind)) * prime64
	id := uint64(key.ID)
	for i := 0; i < 8; i++ {
		h = (h ^ (id & 0xff)) * prime64
		id >>= 8
	}
	return c.shards[h%uint64(len(c.shards))]
}

// Generation 返回 key 的当前世代号（从未 Bump 过时为 0）。
func (c *ShardedCache) Generation(key core.EntityKey) uint64 {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[key]
}

// Bump 世代号 +1，使所有旧世代条目失效。
func (c *ShardedCache) Bump(key core.EntityKey) uint64 {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[key]++
	return s.gens[key]
}

// Get 返回缓存向量。miss、TTL 到期、世代不匹配都按 miss 处理；
// 后两种情况顺手淘汰条目。返回向量是拷贝，调用方可安全持有。
func (c *ShardedCache) Get(ctx context.Context, key core.EntityKey, generation uint64) (core.Vector, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := elem.Value.(*cacheEntry)

	if c.ttl > 0 && time.Since(e.insertedAt) > c.ttl {
		s.lru.Remove(elem)
		delete(s.entries, key)
		c.misses.Add(1)
		return nil, false
	}
	if e.generation != generation {
		// 陈旧条目：字节没变，但世代号说明交互数据已更新
		s.lru.Remove(elem)
		delete(s.entries, key)
		c.misses.Add(1)
		return nil, false
	}

	s.lru.MoveToFront(elem)
	c.hits.Add(1)
	return e.vector.Clone(), true
}

// Put 写入/覆盖条目；超出分片容量时淘汰最久未访问的条目。
func (c *ShardedCache) Put(ctx context.Context, key core.EntityKey, vector core.Vector, generation uint64) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		e := elem.Value.(*cacheEntry)
		e.vector = vector.Clone()
		e.generation = generation
		e.insertedAt = time.Now()
		s.lru.MoveToFront(elem)
		return
	}

	for s.lru.Len() >= c.maxPerShard {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.lru.Remove(oldest)
		delete(s.entries, oldest.Value.(*cacheEntry).key)
	}

	s.entries[key] = s.lru.PushFront(&cacheEntry{
		key:        key,
		vector:     vector.Clone(),
		generation: generation,
		insertedAt: time.Now(),
	})
}

// Invalidate 硬删除条目（一般用 Bump，此方法留给显式清理场景）。
func (c *ShardedCache) Invalidate(key core.EntityKey) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.lru.Remove(elem)
		delete(s.entries, key)
	}
}

// Stats 返回命中统计快照。
func (c *ShardedCache) Stats() core.CacheStats {
	entries := 0
	for _, s := range c.shards {
		s.mu.Lock()
		entries += len(s.entries)
		s.mu.Unlock()
	}
	return core.CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// Close 停止清理协程。
func (c *ShardedCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// 确保实现了接口
var _ core.EmbeddingCache = (*ShardedCache)(nil)
