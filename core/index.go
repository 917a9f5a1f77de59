package core

import (
	"context"
	"io"
)

// FilterMatcher 是属性过滤的领域接口：判断 Payload 是否满足过滤条件。
// 索引不需要理解过滤语义，只负责在候选上调用它。
//
// 实现：
//   - filter.Equals / filter.Range / filter.Contains / filter.And
//   - filter.CEL（表达式驱动）
type FilterMatcher interface {
	Matches(payload Payload) bool
}

// ScoredID 是单条检索结果：物品 ID + 相似度分数。
// 余弦度量下分数是两个单位向量的内积，范围 [-1, 1]，不是概率。
type ScoredID struct {
	ID    int64
	Score float64
}

// IndexBackend 是相似度索引的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（index）实现
//   - 对精确/近似策略多态：Flat（暴力精确）、IVF（倒排+聚类）、HNSW（图检索）
//   - Search/BatchSearch 并发安全；Build/Upsert 是仅有的写路径，
//     通过短暂排他锁或快照替换保证读查询不会观察到半更新结构
//
// 错误语义：
//   - Build 空语料返回 EMPTY_CORPUS，维度不齐返回 DIMENSION_MISMATCH
//   - Search 的 k 超出 [1, MaxK] 返回 INVALID_K
//   - 过滤后不足 k 条不是错误：返回更少的结果，绝不用不匹配的候选凑数
type IndexBackend interface {
	// Name 返回索引类型名称（flat / ivf / hnsw）
	Name() string

	// Build 消费一次完整语料构建索引（IVF 包含训练阶段）。
	// 失败时保留先前已发布的索引版本。
	Build(ctx context.Context, source VectorStore) error

	// Search 返回至多 k 条结果，按分数降序，分数相同按 ID 升序。
	// filter 为 nil 表示不过滤；过滤时内部超采样后再截断。
	Search(ctx context.Context, query Vector, k int, filter FilterMatcher) ([]ScoredID, error)

	// BatchSearch 语义等价于逐条调用 Search，结果与 queries 对齐。
	// 实现可以内部并行，但必须保持各查询独立。
	BatchSearch(ctx context.Context, queries []Vector, k int, filter FilterMatcher) ([][]ScoredID, error)

	// Upsert 增量并入新增/变更的 Point，不做全量重建。
	// IVF 插入最近的已有簇，簇平衡逐渐退化，直到下次全量 Build 修复。
	Upsert(ctx context.Context, point Point) error

	// Size 返回已索引的向量数
	Size() int
}

// PersistentIndex 是支持持久化的索引能力扩展。
//
// 接口组合原则：基础能力接口在前，扩展能力接口嵌入它。
// 磁盘布局：头部（魔数、格式版本、维度、度量、点数）+ 后端私有结构 + ID 映射表。
// Load 先校验头部，与配对的 VectorStore 不一致时立即返回 CORRUPT_INDEX，
// 绝不静默返回错误邻居。
type PersistentIndex interface {
	IndexBackend

	// Persist 将索引状态序列化到 w
	Persist(w io.Writer) error

	// Load 从 r 恢复索引状态；store 用于一致性校验
	Load(r io.Reader, store VectorStore) error
}
