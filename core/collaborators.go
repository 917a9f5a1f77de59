package core

import (
	"context"
	"time"
)

// Embedder 是外部序列模型的领域接口：把用户行为序列映射为向量。
//
// 约定：
//   - 固定 history + 固定模型版本下结果确定
//   - 返回向量维度恰好等于集合维度，否则显式报错
//   - 这是本引擎中唯一允许阻塞在网络 I/O 上的调用，
//     由 RetrievalService 包一层可配置超时
type Embedder interface {
	// Embed 根据交互物品序列（时间有序）生成用户向量
	Embed(ctx context.Context, history []int64) (Vector, error)
}

// EmbedderFunc 是 Embedder 的函数适配器。
type EmbedderFunc func(ctx context.Context, history []int64) (Vector, error)

func (f EmbedderFunc) Embed(ctx context.Context, history []int64) (Vector, error) {
	return f(ctx, history)
}

// RatingStore 是外部评分存储的领域接口。
//
// 对协作方的顺序性要求：Apply 返回后，随后的 History 读取必须能看到
// 这条评分（延迟重算向量时读到的是新数据）。
// Apply 失败时调用方不得推进缓存世代号（见 service.RecordInteraction）。
type RatingStore interface {
	// Apply 持久化一条评分
	Apply(ctx context.Context, userID, itemID int64, rating float64, ts time.Time) error

	// History 返回用户按时间排序的交互物品序列（最近的在尾部）
	History(ctx context.Context, userID int64) ([]int64, error)
}

// MetadataStore 是外部元数据存储的领域接口。
// 引擎只持有 Payload 的反范式副本用于过滤，元数据真相在外部。
type MetadataStore interface {
	// Get 返回物品的最新 Payload；不存在时返回 NOT_FOUND
	Get(ctx context.Context, itemID int64) (Payload, error)
}
