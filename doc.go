// Package vecrec 是推荐场景的向量检索与缓存引擎（Vector Retrieval Kit）。
//
// 设计要点：
// - 显式装配: VectorStore / IndexBackend / EmbeddingCache 构造一次后注入 RetrievalService，无进程级单例
// - 索引多态: flat（精确）/ ivf（倒排量化）/ hnsw（分层图）实现同一 core.IndexBackend 接口，可互换
// - 精确失效: 缓存命中绑定世代号（评分更新时 Bump），杜绝固定 TTL 留下的陈旧读窗口
package vecrec

import "github.com/rushteam/vecrec/core"

// 轻量 facade：便于用户直接 import "vecrec" 使用核心抽象。
type Point = core.Point
type Payload = core.Payload
type Vector = core.Vector
type VectorStore = core.VectorStore
type IndexBackend = core.IndexBackend
type EmbeddingCache = core.EmbeddingCache
type RankedResult = core.RankedResult

const (
	MetricCosine       = core.MetricCosine
	MetricInnerProduct = core.MetricInnerProduct
	MetricEuclidean    = core.MetricEuclidean
)
