package core

import "context"

// EmbeddingCache 是向量缓存的领域接口：避免重复计算实体向量。
//
// 设计原则：
//   - 命中判定基于世代号（generation）：条目世代与当前世代不一致视为 miss，
//     并顺手淘汰陈旧条目。这比"评分更新时删 key + 固定 TTL"严格：
//     新评分到达后不可能再读到旧向量
//   - Bump 优先于硬删除：持有旧世代号的在途读取可以安全完成，
//     不会与删除竞态
//   - 双重淘汰：LRU（容量上限）+ 绝对 TTL（时间上限），先触发者生效
//
// 实现：
//   - cache.ShardedCache 实现此接口（分片锁，适合高并发热路径）
type EmbeddingCache interface {
	// Generation 返回 key 的当前世代号（从未 Bump 过时为 0）
	Generation(key EntityKey) uint64

	// Bump 世代号 +1，使所有旧世代条目失效；返回新世代号
	Bump(key EntityKey) uint64

	// Get 返回缓存向量；miss 或世代不匹配时返回 false
	Get(ctx context.Context, key EntityKey, generation uint64) (Vector, bool)

	// Put 写入/覆盖缓存条目
	Put(ctx context.Context, key EntityKey, vector Vector, generation uint64)

	// Invalidate 硬删除条目（优先使用 Bump）
	Invalidate(key EntityKey)

	// Stats 返回命中统计（用于 Health 上报）
	Stats() CacheStats

	// Close 释放资源（停止后台清理协程）
	Close()
}

// CacheStats 是缓存命中统计快照。
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// HitRate 返回命中率；无访问时为 0。
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
