package core

import "time"

// RankedItem 是返回给上层 API 的单条推荐结果：分数 + 反范式元信息。
type RankedItem struct {
	ID      int64
	Score   float64
	Payload Payload
}

// RankedResult 是一次检索请求的完整结果。
type RankedResult struct {
	Items   []RankedItem
	Latency time.Duration
}

// IDs 返回结果中的物品 ID 列表（保持排序）。
func (r *RankedResult) IDs() []int64 {
	out := make([]int64, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.ID
	}
	return out
}

// HealthStats 是引擎健康快照，暴露给上层管理接口。
type HealthStats struct {
	IndexSize     int
	IndexName     string
	CacheHitRate  float64
	CacheEntries  int
	StoreSize     int
	LastBuildTime time.Time
}
